package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

func cachedResult(correlationID string) *domainResearch.EngineResult {
	return &domainResearch.EngineResult{
		CorrelationID: common.CorrelationID(correlationID),
		Outcome:       domainResearch.OutcomeAccepted,
		Document: domainResearch.Candidate{
			Summary: "KRAS G12C inhibitor market outlook",
		},
		OverallScore: 91.5,
		SourceCount:  4,
		Elapsed:      1200 * time.Millisecond,
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "fp-1", cachedResult("run-1")))

	got, found, err := cache.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "run-1", string(got.CorrelationID))
	assert.Equal(t, domainResearch.OutcomeAccepted, got.Outcome)
	assert.Equal(t, "KRAS G12C inhibitor market outlook", got.Document.Summary)
	assert.InDelta(t, 91.5, got.OverallScore, 0.001)
}

func TestResultCacheMiss(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())

	got, found, err := cache.Get(context.Background(), "fp-unknown")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestResultCacheAppliesJitteredTTL(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger(), WithTTL(10*time.Minute))

	require.NoError(t, cache.Set(context.Background(), "fp-1", cachedResult("run-1")))

	ttl := mr.TTL("rxmi:research:fp-1")
	assert.GreaterOrEqual(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 11*time.Minute)
}

func TestResultCacheEvictsCorruptEntries(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())
	require.NoError(t, mr.Set("rxmi:research:fp-1", "{not json"))

	got, found, err := cache.Get(context.Background(), "fp-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
	assert.False(t, found)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("rxmi:research:fp-1"))
}

func TestResultCacheInvalidate(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "fp-1", cachedResult("run-1")))
	require.NoError(t, cache.Set(ctx, "fp-2", cachedResult("run-2")))

	require.NoError(t, cache.Invalidate(ctx, "fp-1"))
	assert.False(t, mr.Exists("rxmi:research:fp-1"))
	assert.True(t, mr.Exists("rxmi:research:fp-2"))
}

func TestResultCachePurgeAll(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "fp-1", cachedResult("run-1")))
	require.NoError(t, cache.Set(ctx, "fp-2", cachedResult("run-2")))
	require.NoError(t, cache.Set(ctx, "fp-3", cachedResult("run-3")))
	require.NoError(t, mr.Set("rxmi:lock:research:fp-1", "held"))

	deleted, err := cache.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	// Keys outside the result namespace survive.
	assert.True(t, mr.Exists("rxmi:lock:research:fp-1"))
}

func TestResultCacheRejectsNilResult(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewResultCache(client, logging.NewNopLogger())

	err := cache.Set(context.Background(), "fp-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
