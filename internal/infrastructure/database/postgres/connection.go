// Package postgres manages the PostgreSQL connection pool and schema
// migrations for the research-run audit store.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Pool wraps the pgx connection pool with health checking and idempotent
// shutdown. Repositories receive the raw *pgxpool.Pool via Pool().
type Pool struct {
	pool   *pgxpool.Pool
	cfg    config.DatabaseConfig
	logger logging.Logger
	once   sync.Once
}

// Connect opens a connection pool against the configured database and
// verifies it with a ping before returning.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log logging.Logger) (*Pool, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	pcfg, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBConnectionError, "invalid database configuration")
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	} else {
		pcfg.MaxConns = 25
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		pcfg.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	} else {
		pcfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBConnectionError, "failed to create connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.CodeDBConnectionError, "database connection failed")
	}

	log.Info("connected to PostgreSQL",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.DBName),
		logging.Int("max_conns", int(pcfg.MaxConns)),
	)

	return &Pool{pool: pool, cfg: cfg, logger: log}, nil
}

// Pool returns the underlying pgx pool.
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// HealthCheck pings the database and warns when the pool is close to
// saturation.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.CodeDBConnectionError, "database health check failed")
	}

	stat := p.pool.Stat()
	if total := stat.TotalConns(); total > 0 {
		usage := float64(stat.AcquiredConns()) / float64(total)
		if usage > 0.8 {
			p.logger.Warn("high database connection pool usage",
				logging.Int("acquired", int(stat.AcquiredConns())),
				logging.Int("total", int(total)),
				logging.Float64("usage", usage),
			)
		}
	}
	return nil
}

// Close releases the pool. Safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.pool.Close()
		p.logger.Info("closed PostgreSQL connection pool")
	})
}

// BuildDSN constructs the PostgreSQL connection URL from configuration. The
// same string drives the pool and the migrator.
func BuildDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}

	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
