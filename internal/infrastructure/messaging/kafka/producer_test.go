package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaWriter) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats {
	return kafka.WriterStats{}
}

func newTestProducer(mock WriterInterface) *Producer {
	return &Producer{
		writer:  mock,
		config:  ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 1024 * 1024},
		logger:  logging.NewNopLogger(),
		metrics: &producerMetrics{},
	}
}

func testMessage(topic, key, value string) *ProducerMessage {
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: []byte(value),
	}
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"localhost:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"localhost:9092"}, MaxRetries: -1}))
}

func TestPublishSuccess(t *testing.T) {
	var captured []kafka.Message
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	}
	p := newTestProducer(mock)

	err := p.Publish(context.Background(), testMessage("research.completed", "fp-1", "payload"))
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, "research.completed", captured[0].Topic)
	assert.Equal(t, "fp-1", string(captured[0].Key))
	assert.Equal(t, "payload", string(captured[0].Value))
	assert.Equal(t, int64(1), p.Stats().MessagesSent)
}

func TestPublishValidatesMessage(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.Error(t, p.Publish(ctx, &ProducerMessage{Value: []byte("v")}))
	assert.Error(t, p.Publish(ctx, &ProducerMessage{Topic: "t"}))

	p.config.MaxMessageBytes = 4
	assert.Error(t, p.Publish(ctx, testMessage("t", "k", "oversized")))
}

func TestPublishFailureCountsAsFailed(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return errors.New("broker down")
		},
	}
	p := newTestProducer(mock)

	err := p.Publish(context.Background(), testMessage("t", "k", "v"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().MessagesFailed)
}

func TestPublishBatchPartialFailure(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			errs := make(kafka.WriteErrors, len(msgs))
			errs[1] = errors.New("fail")
			return errs
		},
	}
	p := newTestProducer(mock)

	res, err := p.PublishBatch(context.Background(), []*ProducerMessage{
		testMessage("t", "1", "1"),
		testMessage("t", "2", "2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
}

func TestPublishAsyncReportsFailures(t *testing.T) {
	failed := make(chan error, 1)
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return errors.New("broker down")
		},
	}
	p := newTestProducer(mock)
	p.config.AsyncErrorHandler = func(err error, msg *ProducerMessage) {
		failed <- err
	}

	p.PublishAsync(context.Background(), testMessage("t", "k", "v"))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async error handler")
	}
}

func TestPublishAfterClose(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), testMessage("t", "k", "v"))
	assert.Equal(t, ErrProducerClosed, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	closes := 0
	mock := &mockKafkaWriter{
		closeFunc: func() error {
			closes++
			return nil
		},
	}
	p := newTestProducer(mock)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, closes)
}
