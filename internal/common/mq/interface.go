package mq

import (
	"context"
	"time"
)

// Producer publishes pipeline events to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Message is a broker-neutral event envelope. Messages sharing a Key land on
// the same partition.
type Message struct {
	Key       string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time
}

// NewMessage builds a keyed message stamped with the current time.
func NewMessage(key string, body []byte, headers map[string]string) *Message {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &Message{Key: key, Body: body, Headers: headers, Timestamp: time.Now()}
}
