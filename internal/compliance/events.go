package compliance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odyssey-erp/fxreval/internal/platform/kafka"
)

// EventRunCompleted is the type header of a finished-run event.
const EventRunCompleted = "fx.revaluation.completed"

// MessagePublisher writes messages to a topic.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, messages ...kafka.Message) error
}

// RunEvent is the payload published when a run reaches a terminal status.
type RunEvent struct {
	Type          string    `json:"type"`
	DisplayStatus string    `json:"display_status"`
	PublishedAt   time.Time `json:"published_at"`
	RunResult
}

// KafkaEvents publishes run outcomes keyed by company code, so one
// company's runs stay ordered on a partition.
type KafkaEvents struct {
	publisher MessagePublisher
	topic     string
	now       func() time.Time
}

// NewKafkaEvents constructs the publisher for topic.
func NewKafkaEvents(publisher MessagePublisher, topic string) *KafkaEvents {
	return &KafkaEvents{publisher: publisher, topic: topic, now: time.Now}
}

// PublishRunCompleted implements EventPublisher.
func (e *KafkaEvents) PublishRunCompleted(ctx context.Context, res RunResult) error {
	if e == nil || e.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(RunEvent{
		Type:          EventRunCompleted,
		DisplayStatus: res.DisplayStatus(),
		PublishedAt:   e.now().UTC(),
		RunResult:     res,
	})
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, e.topic, kafka.Message{
		Key:   []byte(res.CompanyCode),
		Value: payload,
		Headers: map[string]string{
			"event-type": EventRunCompleted,
			"run-id":     res.RunID.String(),
		},
	})
}
