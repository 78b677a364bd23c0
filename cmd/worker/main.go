// The worker daemon consumes queued research requests from Kafka, runs the
// quality-gated research engine for each one, and fans the outcome out to
// the audit store, the event bus, the document archive, the evidence index,
// the deal graph, and the claim vector store. It exposes liveness,
// readiness, and metrics endpoints for the scheduler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/prometheus"
	opshttp "github.com/turtacn/RxMarket-Intelligence/internal/interfaces/http"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := prom.NewMetricsCollector(prom.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		Subsystem:            "worker",
		EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
		EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
	}, logger)
	metrics := prom.NewAppMetrics(collector)

	deps, err := buildDependencies(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", logging.Err(err))
		os.Exit(1)
	}
	defer deps.Close(logger)

	// Topic provisioning is best effort: a broker that disallows topic
	// creation still serves pre-provisioned topics.
	if tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger); err != nil {
		logger.Warn("kafka topic manager unavailable", logging.Err(err))
	} else {
		if err := tm.EnsureDefaultTopics(ctx); err != nil {
			logger.Warn("kafka topic provisioning failed", logging.Err(err))
		}
		tm.Close()
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topics:          []string{kafka.TopicResearchRequested},
		AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			MaxRetryBackoff: 10 * time.Second,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create kafka consumer", logging.Err(err))
		os.Exit(1)
	}
	defer consumer.Close()

	consumer.Subscribe(kafka.TopicResearchRequested, researchHandler(deps.service, deps.locks, cfg, logger))

	if err := consumer.Start(ctx); err != nil {
		logger.Error("failed to start kafka consumer", logging.Err(err))
		os.Exit(1)
	}

	ops := opshttp.NewServer(cfg.Server, collector.Handler(), logger, deps.Probes()...)
	go func() {
		if err := ops.Start(); err != nil {
			logger.Error("ops server terminated", logging.Err(err))
			stop()
		}
	}()

	logger.Info("worker started",
		logging.String("group", cfg.Kafka.GroupID),
		logging.Int("ops_port", cfg.Server.Port),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	defer cancel()
	if err := consumer.Close(); err != nil {
		logger.Warn("kafka consumer close failed", logging.Err(err))
	}
	if err := ops.Shutdown(drainCtx); err != nil {
		logger.Warn("ops server shutdown failed", logging.Err(err))
	}

	logger.Info("worker stopped")
}

// loadConfig reads the config file when one is present. A missing file at
// the default path falls back to environment-only loading; an explicit
// --config that does not exist stays an error.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			return config.LoadFromEnv()
		}
	}
	return config.Load(path)
}

// researchHandler runs one queued research request under the engine's
// request timeout, holding a fingerprint lock so redeliveries and duplicate
// submissions spend the generation budget once.
func researchHandler(svc appresearch.Service, locks redis.LockFactory, cfg *config.Config, logger logging.Logger) kafka.MessageHandler {
	log := logger.Named("research_handler")

	return func(ctx context.Context, msg *kafka.Message) error {
		var env kafka.EventEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			return fmt.Errorf("malformed event envelope: %w", err)
		}
		var payload kafka.ResearchRequestedPayload
		if err := env.DecodePayload(&payload); err != nil {
			return fmt.Errorf("malformed research request payload: %w", err)
		}

		req := &appresearch.Request{Context: payload.Context}
		if err := req.Validate(); err != nil {
			// Invalid contexts never become valid on retry; surface them so
			// the consumer dead-letters the message.
			return err
		}

		fingerprint := payload.Context.Fingerprint()
		mutex := locks.NewMutex("research:"+fingerprint,
			redis.WithWatchdog(true),
			redis.WithWatchdogInterval(cfg.Worker.HeartbeatInterval),
		)
		acquired, err := mutex.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("research lock: %w", err)
		}
		if !acquired {
			// Another worker owns this fingerprint. Its SaveRun is
			// idempotent, so dropping the duplicate is safe.
			log.Info("duplicate research request skipped",
				logging.String("fingerprint", fingerprint),
				logging.String("trace_id", env.TraceID),
			)
			return nil
		}
		defer func() {
			if err := mutex.Unlock(context.Background()); err != nil {
				log.Warn("research lock release failed",
					logging.String("fingerprint", fingerprint),
					logging.Err(err),
				)
			}
		}()

		runCtx := ctx
		if cfg.Engine.RequestTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.Engine.RequestTimeout)
			defer cancel()
		}

		res, err := svc.Execute(runCtx, req)
		if err != nil {
			return err
		}
		log.Info("queued research finished",
			logging.String("correlation_id", string(res.CorrelationID)),
			logging.String("outcome", string(res.Outcome)),
			logging.Float64("overall", res.OverallScore),
		)
		return nil
	}
}
