// Package neo4j wraps the graph driver behind narrow interfaces so the deal
// graph repository and its tests depend on transaction semantics rather than
// on the driver's concrete session types.
package neo4j

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const (
	defaultPoolSize           = 50
	defaultConnectionLifetime = time.Hour
	defaultAcquireTimeout     = 60 * time.Second
	connectTimeout            = 10 * time.Second
	defaultDatabase           = "neo4j"
)

// Result abstracts neo4j.ResultWithContext down to what repositories use.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

// Transaction abstracts neo4j.ManagedTransaction.
type Transaction interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

// TransactionWork is one unit of work executed inside a managed transaction.
// The driver retries it on transient cluster errors, so it must be safe to
// run more than once.
type TransactionWork func(tx Transaction) (any, error)

// Executor is the repository-facing surface of the driver.
type Executor interface {
	ExecuteRead(ctx context.Context, work TransactionWork) (any, error)
	ExecuteWrite(ctx context.Context, work TransactionWork) (any, error)
}

type internalSession interface {
	ExecuteRead(ctx context.Context, work TransactionWork) (any, error)
	ExecuteWrite(ctx context.Context, work TransactionWork) (any, error)
	Close(ctx context.Context) error
}

type internalDriver interface {
	VerifyConnectivity(ctx context.Context) error
	NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession
	Close(ctx context.Context) error
}

type stdResult struct {
	res neo4j.ResultWithContext
}

func (r *stdResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *stdResult) Record() *neo4j.Record         { return r.res.Record() }
func (r *stdResult) Err() error                    { return r.res.Err() }
func (r *stdResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	return r.res.Consume(ctx)
}

type stdTransaction struct {
	tx neo4j.ManagedTransaction
}

func (t *stdTransaction) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &stdResult{res: res}, nil
}

type stdSession struct {
	s neo4j.SessionWithContext
}

func (s *stdSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	return s.s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	return s.s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) Close(ctx context.Context) error { return s.s.Close(ctx) }

type stdDriver struct {
	d neo4j.DriverWithContext
}

func (d *stdDriver) VerifyConnectivity(ctx context.Context) error {
	return d.d.VerifyConnectivity(ctx)
}

func (d *stdDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession {
	return &stdSession{s: d.d.NewSession(ctx, config)}
}

func (d *stdDriver) Close(ctx context.Context) error { return d.d.Close(ctx) }

// Driver manages the connection pool and runs transaction work against the
// configured database.
type Driver struct {
	driver internalDriver
	cfg    config.Neo4jConfig
	logger logging.Logger
	once   sync.Once
}

// NewDriver connects to the cluster and verifies connectivity before
// returning.
func NewDriver(cfg config.Neo4jConfig, log logging.Logger) (*Driver, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "neo4j needs a connection URI")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("neo4j")

	drv, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = defaultPoolSize
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		c.MaxConnectionLifetime = defaultConnectionLifetime
		c.ConnectionAcquisitionTimeout = defaultAcquireTimeout
		if cfg.ConnectionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeGraphError, "failed to create neo4j driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := drv.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeGraphError, "failed to connect to neo4j")
	}

	log.Info("neo4j driver connected",
		logging.String("uri", cfg.URI),
		logging.String("database", databaseName(cfg)),
	)

	return &Driver{
		driver: &stdDriver{d: drv},
		cfg:    cfg,
		logger: log,
	}, nil
}

func databaseName(cfg config.Neo4jConfig) string {
	if cfg.Database == "" {
		return defaultDatabase
	}
	return cfg.Database
}

func (d *Driver) session(ctx context.Context, mode neo4j.AccessMode) internalSession {
	return d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: databaseName(d.cfg),
		AccessMode:   mode,
	})
}

// ExecuteRead runs work in a managed read transaction.
func (d *Driver) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	session := d.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, work)
	if err != nil {
		d.logger.Error("neo4j read transaction failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeGraphError, "neo4j read failed")
	}
	return result, nil
}

// ExecuteWrite runs work in a managed write transaction.
func (d *Driver) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	session := d.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		d.logger.Error("neo4j write transaction failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeGraphError, "neo4j write failed")
	}
	return result, nil
}

// HealthCheck verifies connectivity and runs a trivial read so readiness
// probes exercise the whole path.
func (d *Driver) HealthCheck(ctx context.Context) error {
	if err := d.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Wrap(err, errors.CodeGraphError, "neo4j connectivity check failed")
	}

	_, err := d.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		result, err := tx.Run(ctx, "RETURN 1 AS health", nil)
		if err != nil {
			return nil, err
		}
		return ExtractSingleRecord(ctx, result, func(rec *neo4j.Record) (any, error) {
			return rec.Values[0], nil
		})
	})
	return err
}

// Close releases the connection pool. Safe to call more than once.
func (d *Driver) Close() error {
	var err error
	d.once.Do(func() {
		err = d.driver.Close(context.Background())
		if err != nil {
			d.logger.Error("failed to close neo4j driver", logging.Err(err))
			return
		}
		d.logger.Info("neo4j driver closed")
	})
	return err
}

// ExtractSingleRecord maps the first record of a result, or returns a
// not-found error when the result is empty.
func ExtractSingleRecord[T any](ctx context.Context, result Result, mapper func(*neo4j.Record) (T, error)) (T, error) {
	var zero T
	if result.Next(ctx) {
		return mapper(result.Record())
	}
	if err := result.Err(); err != nil {
		return zero, err
	}
	return zero, errors.New(errors.ErrCodeNotFound, "no record found")
}

// CollectRecords maps every record of a result into a slice.
func CollectRecords[T any](ctx context.Context, result Result, mapper func(*neo4j.Record) (T, error)) ([]T, error) {
	var items []T
	for result.Next(ctx) {
		item, err := mapper(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
