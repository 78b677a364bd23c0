// Package opensearch backs the evidence index: accepted research output is
// written here and later runs cross-reference their deal records against it.
package opensearch

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var ErrConnectionFailed = errors.New(errors.CodeSearchError, "opensearch connection failed")

const (
	connectTimeout      = 5 * time.Second
	healthCheckInterval = 30 * time.Second
	retryBackoffStep    = 100 * time.Millisecond
)

// Client wraps the cluster connection and tracks its health with a
// background ping loop.
type Client struct {
	client  *opensearch.Client
	cfg     config.OpenSearchConfig
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
}

// NewClient connects to the cluster and verifies it answers before
// returning.
func NewClient(cfg config.OpenSearchConfig, log logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New(errors.ErrCodeConfiguration, "opensearch needs at least one address")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.User,
		Password:      cfg.Password,
		Transport:     transport,
		MaxRetries:    3,
		RetryOnStatus: []int{429, 502, 503, 504},
		RetryBackoff:  func(attempt int) time.Duration { return time.Duration(attempt) * retryBackoffStep },
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to build opensearch client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		client: osClient,
		cfg:    cfg,
		logger: log.Named("opensearch"),
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, connectTimeout)
	defer pingCancel()
	if err := c.Ping(pingCtx); err != nil {
		cancel()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	go c.watchHealth(ctx)

	c.logger.Info("opensearch client connected",
		logging.Strings("addresses", cfg.Addresses),
	)
	return c, nil
}

// Ping checks the cluster and records the result in the health flag.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.CodeSearchError, "opensearch ping failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		return errors.Newf(errors.CodeSearchError, "opensearch ping returned status %d", resp.StatusCode)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the most recent ping.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// GetClient exposes the raw client for request execution.
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// Close stops the health loop. The underlying HTTP client has no
// connection state to release.
func (c *Client) Close() error {
	c.cancel()
	c.logger.Info("opensearch client closed")
	return nil
}

func (c *Client) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			curr := c.healthy.Load()

			if prev && !curr {
				c.logger.Error("opensearch cluster became unhealthy", logging.Err(err))
			} else if !prev && curr {
				c.logger.Info("opensearch cluster recovered")
			}
		}
	}
}
