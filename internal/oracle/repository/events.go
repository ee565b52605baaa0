package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskoracle/internal/common/mq"
	appErr "taskoracle/pkg/errors"
)

const (
	EventVersionCreated = "oracle.version.created"
	EventTestsGenerated = "oracle.tests.generated"
	EventRunCompleted   = "oracle.run.completed"
)

// Event is a pipeline notification published after a state change.
type Event struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	VersionID string         `json:"version_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// EventPublisher emits pipeline events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// TopicConfig maps event types to topics. An empty topic disables that event.
type TopicConfig struct {
	VersionCreated string `yaml:"versionCreated"`
	TestsGenerated string `yaml:"testsGenerated"`
	RunCompleted   string `yaml:"runCompleted"`
}

// MQEventPublisher publishes events to a message queue keyed by version id.
type MQEventPublisher struct {
	producer mq.Producer
	topics   TopicConfig
}

func NewMQEventPublisher(producer mq.Producer, topics TopicConfig) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topics: topics}
}

func (p *MQEventPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	topic := p.topicFor(event.Type)
	if topic == "" {
		return nil
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	message := mq.NewMessage(event.VersionID, payload, map[string]string{"event_type": event.Type})
	if err := p.producer.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.MQError, "publish %s event failed", event.Type)
	}
	return nil
}

func (p *MQEventPublisher) topicFor(eventType string) string {
	switch eventType {
	case EventVersionCreated:
		return p.topics.VersionCreated
	case EventTestsGenerated:
		return p.topics.TestsGenerated
	case EventRunCompleted:
		return p.topics.RunCompleted
	default:
		return ""
	}
}

// NopEventPublisher drops all events.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(ctx context.Context, event Event) error { return nil }
