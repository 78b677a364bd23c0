package common

import (
	"context"
	stdliberrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

func TestFanoutAllSuccess(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5}
	res, err := Fanout(context.Background(), items, FanoutOptions{Concurrency: 3},
		func(_ context.Context, n int) (int, error) { return n * n, nil })
	require.NoError(t, err)

	require.Len(t, res.Results, 5)
	for i, want := range []int{1, 4, 9, 16, 25} {
		assert.Equal(t, i, res.Results[i].Index)
		assert.Equal(t, want, res.Results[i].Result)
		assert.Equal(t, ItemStatusSuccess, res.Results[i].Status)
	}
	assert.Equal(t, 5, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.True(t, res.AllSucceeded())
	assert.Equal(t, 1.0, res.SuccessRate())
}

func TestFanoutRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var current, peak int64
	items := make([]int, 12)
	_, err := Fanout(context.Background(), items, FanoutOptions{Concurrency: 2},
		func(_ context.Context, _ int) (struct{}, error) {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return struct{}{}, nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestFanoutCountsFailures(t *testing.T) {
	t.Parallel()

	items := []string{"pubmed", "broken", "clinicaltrials", "broken"}
	res, err := Fanout(context.Background(), items, FanoutOptions{},
		func(_ context.Context, s string) (string, error) {
			if s == "broken" {
				return "", stdliberrors.New("source unreachable")
			}
			return s, nil
		})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	assert.False(t, res.AllSucceeded())
	assert.InDelta(t, 0.5, res.SuccessRate(), 1e-9)
	assert.Equal(t, ItemStatusFailed, res.Results[1].Status)
	assert.Error(t, res.Results[1].Err)
}

func TestFanoutItemTimeout(t *testing.T) {
	t.Parallel()

	res, err := Fanout(context.Background(), []int{0}, FanoutOptions{ItemTimeout: 10 * time.Millisecond},
		func(ctx context.Context, _ int) (int, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})
	require.NoError(t, err, "parent context stays live")

	require.Len(t, res.Results, 1)
	assert.Equal(t, ItemStatusTimeout, res.Results[0].Status)
	assert.Equal(t, 0, res.SuccessCount)
}

func TestFanoutCancelledParent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Fanout(ctx, []int{1, 2, 3}, FanoutOptions{},
		func(_ context.Context, n int) (int, error) { return n, nil })
	require.ErrorIs(t, err, context.Canceled)

	for _, r := range res.Results {
		assert.Equal(t, ItemStatusCancelled, r.Status)
	}
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 3, res.FailureCount)
}

func TestFanoutEmptyItems(t *testing.T) {
	t.Parallel()

	res, err := Fanout(context.Background(), nil, FanoutOptions{},
		func(_ context.Context, _ int) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0.0, res.SuccessRate())
}

func TestFanoutRecoversPanic(t *testing.T) {
	t.Parallel()

	res, err := Fanout(context.Background(), []int{1, 2}, FanoutOptions{},
		func(_ context.Context, n int) (int, error) {
			if n == 2 {
				panic("validator blew up")
			}
			return n, nil
		})
	require.NoError(t, err)

	assert.Equal(t, ItemStatusSuccess, res.Results[0].Status)
	assert.Equal(t, ItemStatusFailed, res.Results[1].Status)
	require.Error(t, res.Results[1].Err)
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(res.Results[1].Err))
	assert.Contains(t, res.Results[1].Err.Error(), "validator blew up")
}

func TestFanoutDefaultConcurrency(t *testing.T) {
	t.Parallel()

	res, err := Fanout(context.Background(), []int{1, 2, 3}, FanoutOptions{Concurrency: -1},
		func(_ context.Context, n int) (int, error) { return n + 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
}

func TestItemStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", ItemStatusSuccess.String())
	assert.Equal(t, "failed", ItemStatusFailed.String())
	assert.Equal(t, "timeout", ItemStatusTimeout.String())
	assert.Equal(t, "cancelled", ItemStatusCancelled.String())
	assert.Equal(t, "unknown", ItemStatus(99).String())
}
