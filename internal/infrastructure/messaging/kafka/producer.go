package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var ErrProducerClosed = errors.New(errors.ErrCodeInternal, "producer closed")

// ProducerMessage is a single message to publish.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// BatchPublishResult reports per-message outcomes of a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

type BatchItemError struct {
	Index int
	Topic string
	Err   error
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Brokers           []string
	Acks              string
	MaxRetries        int
	BatchSize         int
	BatchTimeout      time.Duration
	MaxMessageBytes   int
	CompressionCodec  string
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	SASLEnabled       bool
	SASLMechanism     string
	SASLUsername      string
	SASLPassword      string
	TLSEnabled        bool
	TLSCertPath       string
	AsyncErrorHandler func(err error, msg *ProducerMessage)
}

type producerMetrics struct {
	messagesSent   atomic.Int64
	messagesFailed atomic.Int64
	bytesSent      atomic.Int64
}

// ProducerStats is a point-in-time snapshot of producer counters.
type ProducerStats struct {
	MessagesSent   int64
	MessagesFailed int64
	BytesSent      int64
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// Producer publishes messages with a hash balancer so messages sharing a key
// land on the same partition in order.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	closed  atomic.Bool
	metrics *producerMetrics
}

func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1024 * 1024
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled {
		tlsConfig, err := buildKafkaTLS(cfg.TLSCertPath)
		if err != nil {
			return nil, err
		}
		transport.TLS = tlsConfig
	}
	if cfg.SASLEnabled {
		mech, err := buildSASLMechanism(cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
		if err != nil {
			return nil, err
		}
		transport.SASL = mech
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.Acks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	var compression kafka.Compression
	switch cfg.CompressionCodec {
	case "gzip":
		compression = kafka.Gzip
	case "snappy":
		compression = kafka.Snappy
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		RequiredAcks: requiredAcks,
		Compression:  compression,
		Transport:    transport,
	}

	return &Producer{
		writer:  writer,
		config:  cfg,
		logger:  logger.Named("producer"),
		metrics: &producerMetrics{},
	}, nil
}

// Publish publishes a single message.
func (p *Producer) Publish(ctx context.Context, msg *ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if msg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "topic required")
	}
	if len(msg.Value) == 0 {
		return errors.New(errors.ErrCodeValidation, "value required")
	}
	if len(msg.Value) > p.config.MaxMessageBytes {
		return errors.New(errors.ErrCodeValidation, "message too large")
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, p.toKafkaMessage(msg)); err != nil {
		p.metrics.messagesFailed.Add(1)
		return errors.Wrap(err, errors.ErrCodeInternal, "publish failed")
	}

	p.metrics.messagesSent.Add(1)
	p.metrics.bytesSent.Add(int64(len(msg.Value)))

	p.logger.Debug("message published",
		logging.String("topic", msg.Topic),
		logging.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// PublishBatch publishes multiple messages and reports per-message results.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*ProducerMessage) (*BatchPublishResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "messages empty")
	}

	kMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		kMsgs[i] = p.toKafkaMessage(msg)
	}

	result := &BatchPublishResult{}
	if err := p.writer.WriteMessages(ctx, kMsgs...); err != nil {
		if writeErrs, ok := err.(kafka.WriteErrors); ok {
			for i, we := range writeErrs {
				if we != nil {
					result.Failed++
					result.Errors = append(result.Errors, BatchItemError{
						Index: i,
						Topic: msgs[i].Topic,
						Err:   we,
					})
				} else {
					result.Succeeded++
				}
			}
		} else {
			result.Failed = len(msgs)
			result.Errors = append(result.Errors, BatchItemError{Index: -1, Err: err})
		}
	} else {
		result.Succeeded = len(msgs)
	}

	p.metrics.messagesSent.Add(int64(result.Succeeded))
	p.metrics.messagesFailed.Add(int64(result.Failed))

	p.logger.Info("batch published",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

// PublishAsync publishes without blocking; failures go to the configured
// AsyncErrorHandler.
func (p *Producer) PublishAsync(ctx context.Context, msg *ProducerMessage) {
	go func() {
		if err := p.Publish(ctx, msg); err != nil && p.config.AsyncErrorHandler != nil {
			p.config.AsyncErrorHandler(err, msg)
		}
	}()
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.metrics.messagesSent.Load(),
		MessagesFailed: p.metrics.messagesFailed.Load(),
		BytesSent:      p.metrics.bytesSent.Load(),
	}
}

func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("kafka producer closed", logging.Int64("sent", p.metrics.messagesSent.Load()))
	return err
}

func (p *Producer) toKafkaMessage(msg *ProducerMessage) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return kafka.Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      ts,
		Partition: msg.Partition,
	}
}

func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return nil
}

func buildKafkaTLS(certPath string) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: true}
	if certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read ca cert")
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caCertPool
		tlsConfig.InsecureSkipVerify = false
	}
	return tlsConfig, nil
}

func buildSASLMechanism(mechanism, username, password string) (sasl.Mechanism, error) {
	switch mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "SCRAM-SHA-256":
		mech, err := scram.Mechanism(scram.SHA256, username, password)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create SASL mechanism")
		}
		return mech, nil
	case "SCRAM-SHA-512":
		mech, err := scram.Mechanism(scram.SHA512, username, password)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create SASL mechanism")
		}
		return mech, nil
	default:
		return nil, errors.New(errors.ErrCodeValidation, "unsupported SASL mechanism")
	}
}
