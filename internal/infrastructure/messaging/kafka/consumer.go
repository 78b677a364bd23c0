package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrConsumerClosed = errors.New(errors.ErrCodeInternal, "consumer closed")
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one consumed message. A nil return commits the
// offset; an error triggers the retry and dead-letter path.
type MessageHandler func(ctx context.Context, msg *Message) error

// RetryConfig defines handler retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topics            []string
	AutoOffsetReset   string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxWait           time.Duration
	FetchMinBytes     int
	FetchMaxBytes     int
	SASLEnabled       bool
	SASLMechanism     string
	SASLUsername      string
	SASLPassword      string
	TLSEnabled        bool
	TLSCertPath       string
	RetryConfig       RetryConfig
}

type consumerMetrics struct {
	messagesConsumed     atomic.Int64
	messagesProcessed    atomic.Int64
	messagesFailed       atomic.Int64
	messagesRetried      atomic.Int64
	messagesDeadLettered atomic.Int64
	lag                  atomic.Int64
}

// ConsumerStats is a point-in-time snapshot of consumer counters.
type ConsumerStats struct {
	MessagesConsumed     int64
	MessagesProcessed    int64
	MessagesFailed       int64
	MessagesRetried      int64
	MessagesDeadLettered int64
	Lag                  int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Consumer reads messages in a consumer group and dispatches them to
// topic handlers. Offsets commit only after the handler (or the
// dead-letter fallback) succeeded, so delivery is at least once.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetterProducer *Producer
	metrics            *consumerMetrics
}

func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 10 * time.Second
	}
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 50 * 1024 * 1024
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       cfg.Topics,
		MinBytes:          cfg.FetchMinBytes,
		MaxBytes:          cfg.FetchMaxBytes,
		MaxWait:           cfg.MaxWait,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.TLSEnabled {
		tlsConfig, err := buildKafkaTLS(cfg.TLSCertPath)
		if err != nil {
			return nil, err
		}
		dialer.TLS = tlsConfig
	}
	if cfg.SASLEnabled {
		mech, err := buildSASLMechanism(cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mech
	}
	readerCfg.Dialer = dialer

	reader := kafka.NewReader(readerCfg)

	var dlProducer *Producer
	if cfg.RetryConfig.DeadLetterTopic != "" {
		p, err := NewProducer(ProducerConfig{
			Brokers:       cfg.Brokers,
			SASLEnabled:   cfg.SASLEnabled,
			SASLMechanism: cfg.SASLMechanism,
			SASLUsername:  cfg.SASLUsername,
			SASLPassword:  cfg.SASLPassword,
			TLSEnabled:    cfg.TLSEnabled,
			TLSCertPath:   cfg.TLSCertPath,
		}, logger)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		dlProducer = p
	}

	return &Consumer{
		reader:             reader,
		config:             cfg,
		logger:             logger.Named("consumer"),
		handlers:           make(map[string]MessageHandler),
		deadLetterProducer: dlProducer,
		metrics:            &consumerMetrics{},
	}, nil
}

// Subscribe registers a handler for a topic. Messages on topics without a
// handler are committed and skipped.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("subscribed to topic", logging.String("topic", topic))
}

func (c *Consumer) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.logger.Info("unsubscribed from topic", logging.String("topic", topic))
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)

	go c.consumeLoop(ctx)

	c.logger.Info("kafka consumer started", logging.String("group", c.config.GroupID))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch message failed", logging.Err(err))
			time.Sleep(time.Second)
			continue
		}

		c.metrics.messagesConsumed.Add(1)
		c.metrics.lag.Store(m.HighWaterMark - m.Offset)

		msg := &Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Timestamp: m.Time,
			Headers:   make(map[string]string, len(m.Headers)),
		}
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}

		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("no handler for topic", logging.String("topic", m.Topic))
			c.commit(ctx, m)
			continue
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Uncommitted: the message is redelivered after a restart
			// or rebalance instead of being lost.
			c.logger.Error("message left uncommitted",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Err(err),
			)
			continue
		}
		c.commit(ctx, m)
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("failed to commit offset",
			logging.String("topic", m.Topic),
			logging.Int64("offset", m.Offset),
			logging.Err(err),
		)
	}
}

// processMessage runs the handler with exponential backoff. Exhausted
// retries divert the message to the dead-letter topic; a nil return means
// the offset may be committed.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	err := handler(ctx, msg)
	if err == nil {
		c.metrics.messagesProcessed.Add(1)
		return nil
	}

	maxRetries := c.config.RetryConfig.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoff := c.config.RetryConfig.RetryBackoff
	if backoff == 0 {
		backoff = time.Second
	}
	maxBackoff := c.config.RetryConfig.MaxRetryBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}

	for i := 0; i < maxRetries; i++ {
		c.metrics.messagesRetried.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err = handler(ctx, msg); err == nil {
			c.metrics.messagesProcessed.Add(1)
			return nil
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	c.metrics.messagesFailed.Add(1)
	c.logger.Error("message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err),
	)

	if c.deadLetterProducer == nil {
		// Without a dead-letter topic a poison message must not wedge
		// the partition. Drop it after logging.
		return nil
	}

	dlMsg := &ProducerMessage{
		Topic:   c.config.RetryConfig.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: make(map[string]string, len(msg.Headers)+2),
	}
	for k, v := range msg.Headers {
		dlMsg.Headers[k] = v
	}
	dlMsg.Headers["original_topic"] = msg.Topic
	dlMsg.Headers["error_message"] = err.Error()

	if dlErr := c.deadLetterProducer.Publish(ctx, dlMsg); dlErr != nil {
		return errors.Wrap(dlErr, errors.ErrCodeInternal, "dead letter publish failed")
	}
	c.metrics.messagesDeadLettered.Add(1)
	return nil
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		MessagesConsumed:     c.metrics.messagesConsumed.Load(),
		MessagesProcessed:    c.metrics.messagesProcessed.Load(),
		MessagesFailed:       c.metrics.messagesFailed.Load(),
		MessagesRetried:      c.metrics.messagesRetried.Load(),
		MessagesDeadLettered: c.metrics.messagesDeadLettered.Load(),
		Lag:                  c.metrics.lag.Load(),
	}
}

// Close stops the loop, waits for it to drain, and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.deadLetterProducer != nil {
		_ = c.deadLetterProducer.Close()
	}

	c.logger.Info("kafka consumer closed",
		logging.Int64("consumed", c.metrics.messagesConsumed.Load()))
	return err
}

func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "GroupID required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeValidation, "invalid AutoOffsetReset")
	}
	if cfg.SASLEnabled {
		if cfg.SASLMechanism == "" {
			return errors.New(errors.ErrCodeValidation, "SASLMechanism required")
		}
		if cfg.SASLUsername == "" || cfg.SASLPassword == "" {
			return errors.New(errors.ErrCodeValidation, "SASL credentials required")
		}
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return nil
}
