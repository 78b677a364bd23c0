package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const resultKeySegment = "research:"

// ResultCache stores accepted engine results keyed by request fingerprint.
// Entries expire with a jittered TTL so a burst of runs does not produce a
// burst of simultaneous expirations.
type ResultCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
}

type ResultCacheOption func(*ResultCache)

func WithKeyPrefix(prefix string) ResultCacheOption {
	return func(c *ResultCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) ResultCacheOption {
	return func(c *ResultCache) { c.ttl = ttl }
}

func NewResultCache(client *Client, log logging.Logger, opts ...ResultCacheOption) *ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ResultCache{
		client: client,
		logger: log.Named("result_cache"),
		prefix: "rxmi:",
		ttl:    15 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResultCache) key(fingerprint string) string {
	return c.prefix + resultKeySegment + fingerprint
}

// +/- 10%
func (c *ResultCache) jitterTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return 0
	}
	jitter := float64(ttl) * 0.1 * (rand.Float64()*2 - 1)
	return ttl + time.Duration(jitter)
}

// Get returns the cached result for the fingerprint. A miss is (nil, false,
// nil); a payload that no longer unmarshals is evicted and reported as an
// error so the caller can fall through to a fresh run.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*domainResearch.EngineResult, bool, error) {
	key := c.key(fingerprint)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read result cache")
	}

	var res domainResearch.EngineResult
	if err := json.Unmarshal(data, &res); err != nil {
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("failed to evict corrupt cache entry",
				logging.String("fingerprint", fingerprint),
				logging.Err(delErr),
			)
		}
		return nil, false, errors.Wrap(err, errors.ErrCodeSerialization, "corrupt result cache entry")
	}
	return &res, true, nil
}

// Set stores the result under the fingerprint with the jittered default TTL.
func (c *ResultCache) Set(ctx context.Context, fingerprint string, res *domainResearch.EngineResult) error {
	if res == nil {
		return errors.New(errors.ErrCodeValidation, "result is required")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to serialize result")
	}
	if err := c.client.Set(ctx, c.key(fingerprint), data, c.jitterTTL(c.ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write result cache")
	}
	return nil
}

// Invalidate removes the cached results for the given fingerprints.
func (c *ResultCache) Invalidate(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	keys := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		keys[i] = c.key(fp)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to invalidate result cache")
	}
	return nil
}

// PurgeAll scans and deletes every cached result under the configured
// prefix, returning the number of removed entries.
func (c *ResultCache) PurgeAll(ctx context.Context) (int64, error) {
	var (
		deleted int64
		cursor  uint64
	)
	match := c.prefix + resultKeySegment + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan result cache")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to purge result cache")
			}
			deleted += int64(len(keys))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("purged result cache", logging.Int64("entries", deleted))
	return deleted, nil
}
