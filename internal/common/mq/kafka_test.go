package mq

import (
	"context"
	"testing"
	"time"

	"taskoracle/pkg/utils/contextkey"
)

func TestToKafkaMessageCarriesHeaders(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := NewMessage("ver-1", []byte(`{"a":1}`), map[string]string{"event_type": "oracle.version.created"})
	msg.Timestamp = ts
	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-7")

	km := toKafkaMessage(ctx, "oracle.versions", msg)
	if km.Topic != "oracle.versions" || string(km.Key) != "ver-1" {
		t.Fatalf("unexpected topic/key: %s %s", km.Topic, km.Key)
	}
	got := map[string]string{}
	for _, h := range km.Headers {
		got[h.Key] = string(h.Value)
	}
	if got["event_type"] != "oracle.version.created" {
		t.Fatalf("custom header missing: %v", got)
	}
	if got[headerTraceID] != "trace-7" {
		t.Fatalf("trace header missing: %v", got)
	}
	if got[headerTimestamp] != ts.Format(time.RFC3339Nano) || !km.Time.Equal(ts) {
		t.Fatalf("timestamp header mismatch: %v", got)
	}
}

func TestToKafkaMessageWithoutTrace(t *testing.T) {
	km := toKafkaMessage(context.Background(), "t", &Message{Body: []byte("x")})
	if km.Time.IsZero() {
		t.Fatalf("timestamp should be filled")
	}
	for _, h := range km.Headers {
		if h.Key == headerTraceID {
			t.Fatalf("trace header should be absent")
		}
	}
}

func TestNewKafkaQueueValidation(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("NewKafkaQueue: %v", err)
	}
	defer q.Close()
	if err := q.Publish(context.Background(), "", NewMessage("k", nil, nil)); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if err := q.Publish(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}
