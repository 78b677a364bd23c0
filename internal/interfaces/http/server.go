// Package http hosts the worker's operational endpoints: liveness,
// readiness with per-dependency probes, and the Prometheus handler. The
// research result itself never travels over this server.
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Server is the ops endpoint of one worker process.
type Server struct {
	cfg    config.ServerConfig
	logger logging.Logger
	probes []Probe
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the route tree and the underlying http.Server. The
// metrics handler and the probe list are optional; missing pieces simply
// leave their endpoint unregistered or the readiness body empty.
func NewServer(cfg config.ServerConfig, metricsHandler http.Handler, log logging.Logger, probes ...Probe) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}

	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		logger: log.Named("ops_server"),
		probes: probes,
		engine: engine,
	}

	engine.GET("/healthz", s.liveness)
	engine.GET("/readyz", s.readiness)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until Shutdown is called. A clean shutdown reports no error.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", logging.Int("port", s.cfg.Port))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.ErrCodeInternal, "ops server failed")
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "ops server shutdown failed")
	}
	s.logger.Info("ops server stopped")
	return nil
}

// Handler exposes the route tree for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
