package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"taskoracle/pkg/utils/contextkey"

	"github.com/segmentio/kafka-go"
)

const (
	headerTraceID   = "x-trace-id"
	headerTimestamp = "x-event-ts"

	defaultBatchSize    = 16
	defaultBatchTimeout = 50 * time.Millisecond
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// KafkaConfig defines configuration for the Kafka producer.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
	return c
}

// KafkaQueue implements Producer on a kafka-go writer.
type KafkaQueue struct {
	brokers []string
	writer  *kafka.Writer
	dialer  *kafka.Dialer
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg = cfg.withDefaults()

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		// Topics are created by deployment tooling.
		AllowAutoTopicCreation: false,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
		},
	}
	return &KafkaQueue{brokers: cfg.Brokers, writer: writer, dialer: dialer}, nil
}

// Publish writes one message. The trace id in ctx travels as a header.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("kafka topic is required")
	}
	if message == nil {
		return errors.New("kafka message is nil")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(ctx, topic, message))
}

// Ping succeeds once any broker accepts a connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range k.brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("kafka ping failed: %w", lastErr)
}

func (k *KafkaQueue) Close() error {
	return k.writer.Close()
}

func toKafkaMessage(ctx context.Context, topic string, message *Message) kafka.Message {
	ts := message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+2)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		headers = append(headers, kafka.Header{Key: headerTraceID, Value: []byte(traceID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(ts.Format(time.RFC3339Nano))})

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.Key),
		Value:   message.Body,
		Headers: headers,
		Time:    ts,
	}
}
