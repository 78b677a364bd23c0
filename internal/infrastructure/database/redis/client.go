package redis

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.ErrCodeInternal, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.ErrCodeDatabaseError, "redis connection failed")
)

// Client wraps a go-redis client with a closed flag so commands issued after
// Close fail fast instead of redialing.
type Client struct {
	rdb    redis.UniversalClient
	cfg    config.RedisConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects to the configured Redis server and verifies the
// connection with a ping before returning.
func NewClient(cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(&cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	client := &Client{
		rdb:    rdb,
		cfg:    cfg,
		logger: log.Named("redis"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, ErrConnectionFailed
	}

	client.logger.Info("redis client connected",
		logging.String("addr", cfg.Addr),
		logging.Int("db", cfg.DB),
	)
	return client, nil
}

func applyDefaults(cfg *config.RedisConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = 5
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("failed to close redis client", logging.Err(err))
		return err
	}
	c.logger.Info("redis client closed")
	return nil
}

// GetUnderlyingClient exposes the raw client for script execution.
func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.rdb
}

func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// Commands

func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	if c.isClosed() {
		return errorStringCmd(ErrClientClosed)
	}
	return c.rdb.Get(ctx, key)
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if c.isClosed() {
		return errorStatusCmd(ErrClientClosed)
	}
	return c.rdb.Set(ctx, key, value, expiration)
}

func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if c.isClosed() {
		return errorBoolCmd(ErrClientClosed)
	}
	return c.rdb.SetNX(ctx, key, value, expiration)
}

func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if c.isClosed() {
		return errorIntCmd(ErrClientClosed)
	}
	return c.rdb.Del(ctx, keys...)
}

func (c *Client) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if c.isClosed() {
		return errorIntCmd(ErrClientClosed)
	}
	return c.rdb.Exists(ctx, keys...)
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if c.isClosed() {
		return errorBoolCmd(ErrClientClosed)
	}
	return c.rdb.Expire(ctx, key, expiration)
}

func (c *Client) TTL(ctx context.Context, key string) *redis.DurationCmd {
	if c.isClosed() {
		cmd := redis.NewDurationCmd(ctx, 0)
		cmd.SetErr(ErrClientClosed)
		return cmd
	}
	return c.rdb.TTL(ctx, key)
}

func (c *Client) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	if c.isClosed() {
		cmd := redis.NewScanCmd(ctx, nil)
		cmd.SetErr(ErrClientClosed)
		return cmd
	}
	return c.rdb.Scan(ctx, cursor, match, count)
}

// Helpers

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func errorStringCmd(err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}

func errorStatusCmd(err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}

func errorIntCmd(err error) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}

func errorBoolCmd(err error) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}
