// Package milvus backs the verified-claim vector store: claims from
// validated deals are embedded and indexed here, and the deep validator
// queries them as one cross-reference vote on new deal records.
package milvus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var ErrConnectionFailed = errors.New(errors.CodeSearchError, "milvus connection failed")

const (
	connectTimeout      = 10 * time.Second
	healthCheckInterval = 30 * time.Second
	keepAliveTime       = 60 * time.Second
	keepAliveTimeout    = 20 * time.Second
	// reconnectAfter is how many consecutive failed health checks trigger a
	// reconnect attempt.
	reconnectAfter = 3
)

// newMilvusClient is swapped in tests to inject a fake SDK client.
var newMilvusClient = client.NewClient

// Client wraps the vector store connection, tracks its health with a
// background ping loop, and reconnects after repeated failures.
type Client struct {
	mu     sync.RWMutex
	milvus client.Client
	cfg    config.MilvusConfig
	logger logging.Logger

	healthy atomic.Bool
	cancel  context.CancelFunc
}

// NewClient connects to the cluster and verifies it answers before
// returning.
func NewClient(cfg config.MilvusConfig, log logging.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "milvus needs an address")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mc, err := connect(ctx, cfg)
	if err != nil {
		cancel()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	c := &Client{
		milvus: mc,
		cfg:    cfg,
		logger: log.Named("milvus"),
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, connectTimeout)
	defer pingCancel()
	if err := c.CheckHealth(pingCtx); err != nil {
		c.Close()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	go c.watchHealth(ctx)

	c.logger.Info("milvus client connected",
		logging.String("addr", cfg.Addr),
		logging.String("db", cfg.DBName),
	)
	return c, nil
}

func connect(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	return newMilvusClient(dialCtx, client.Config{
		Address: cfg.Addr,
		DBName:  cfg.DBName,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                keepAliveTime,
				Timeout:             keepAliveTimeout,
				PermitWithoutStream: true,
			}),
		},
	})
}

// CheckHealth pings the cluster and records the result in the health flag.
func (c *Client) CheckHealth(ctx context.Context) error {
	c.mu.RLock()
	mc := c.milvus
	c.mu.RUnlock()
	if mc == nil {
		return ErrConnectionFailed
	}

	if _, err := mc.CheckHealth(ctx); err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.CodeSearchError, "milvus health check failed")
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the most recent health check.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// Raw exposes the SDK client for request execution.
func (c *Client) Raw() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.milvus
}

// Close stops the health loop and releases the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.milvus != nil {
		c.milvus.Close()
		c.milvus = nil
		c.logger.Info("milvus client closed")
	}
	return nil
}

func (c *Client) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.CheckHealth(ctx)
			curr := c.healthy.Load()

			switch {
			case prev && !curr:
				failures = 1
				c.logger.Error("milvus cluster became unhealthy", logging.Err(err))
			case !prev && curr:
				failures = 0
				c.logger.Info("milvus cluster recovered")
			case !curr:
				failures++
			default:
				failures = 0
			}

			if failures >= reconnectAfter {
				if err := c.reconnect(ctx); err != nil {
					c.logger.Error("milvus reconnect failed", logging.Err(err))
				} else {
					failures = 0
				}
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.milvus != nil {
		c.milvus.Close()
	}
	mc, err := connect(ctx, c.cfg)
	if err != nil {
		c.milvus = nil
		return err
	}
	c.milvus = mc
	c.logger.Warn("milvus client reconnected")
	return nil
}
