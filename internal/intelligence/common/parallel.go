package common

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Bounded fan-out
//
// Per-source checks and cross-database lookups are independent I/O calls;
// the verifier runs them through Fanout with a concurrency cap so one slow
// source cannot serialize a whole validation layer.
// ---------------------------------------------------------------------------

const defaultFanoutConcurrency = 4

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemStatus classifies the outcome of a single item.
type ItemStatus int

const (
	ItemStatusSuccess ItemStatus = iota
	ItemStatusFailed
	ItemStatusTimeout
	ItemStatusCancelled
)

func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "success"
	case ItemStatusFailed:
		return "failed"
	case ItemStatusTimeout:
		return "timeout"
	case ItemStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ItemResult holds the outcome of one item.
type ItemResult[R any] struct {
	Index    int
	Result   R
	Err      error
	Duration time.Duration
	Status   ItemStatus
}

// FanoutResult aggregates a full fan-out run. Results is index-aligned with
// the input slice.
type FanoutResult[R any] struct {
	Results      []ItemResult[R]
	SuccessCount int
	FailureCount int
}

// AllSucceeded reports whether every item completed successfully.
func (r *FanoutResult[R]) AllSucceeded() bool {
	return r != nil && r.FailureCount == 0 && len(r.Results) == r.SuccessCount
}

// SuccessRate returns the fraction of items that succeeded, in [0,1].
func (r *FanoutResult[R]) SuccessRate() float64 {
	if r == nil || len(r.Results) == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(len(r.Results))
}

// FanoutOptions tunes a Fanout run.
type FanoutOptions struct {
	// Concurrency caps in-flight items. Zero or negative selects the default.
	Concurrency int
	// ItemTimeout bounds each item individually. Zero disables it.
	ItemTimeout time.Duration
}

// Fanout processes items with bounded concurrency and returns per-item
// outcomes. A cancelled parent context marks unstarted items cancelled and
// is also returned as the error so callers can distinguish a cut-short run.
func Fanout[T, R any](ctx context.Context, items []T, opts FanoutOptions, fn ProcessFunc[T, R]) (*FanoutResult[R], error) {
	res := &FanoutResult[R]{Results: make([]ItemResult[R], len(items))}
	if len(items) == 0 {
		return res, nil
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultFanoutConcurrency
	}
	if limit > len(items) {
		limit = len(items)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				res.Results[j] = ItemResult[R]{Index: j, Err: err, Status: ItemStatusCancelled}
			}
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			res.Results[idx] = runItem(ctx, idx, items[idx], opts.ItemTimeout, fn)
		}(i)
	}
	wg.Wait()

	for i := range res.Results {
		if res.Results[i].Status == ItemStatusSuccess {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	return res, ctx.Err()
}

func runItem[T, R any](ctx context.Context, idx int, item T, timeout time.Duration, fn ProcessFunc[T, R]) (result ItemResult[R]) {
	itemCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = ItemResult[R]{
				Index:    idx,
				Err:      errors.Newf(errors.ErrCodeInternal, "panic while processing item %d: %v", idx, rec),
				Duration: time.Since(start),
				Status:   ItemStatusFailed,
			}
		}
	}()

	out, err := fn(itemCtx, item)
	result = ItemResult[R]{Index: idx, Result: out, Err: err, Duration: time.Since(start)}
	switch {
	case err == nil:
		result.Status = ItemStatusSuccess
	case ctx.Err() != nil:
		result.Status = ItemStatusCancelled
	case itemCtx.Err() == context.DeadlineExceeded:
		result.Status = ItemStatusTimeout
	default:
		result.Status = ItemStatusFailed
	}
	return result
}
