package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// TopicPublisher serializes events as JSON and routes them to the producer
// bound to the target subject. Messages are keyed so that all events for one
// order land on one partition and keep their relative order.
type TopicPublisher struct {
	producers map[string]Producer
}

// NewTopicPublisher creates a publisher over a subject-to-producer table.
func NewTopicPublisher(producers map[string]Producer) *TopicPublisher {
	return &TopicPublisher{producers: producers}
}

// Publish marshals the event and writes it to the subject's producer.
func (p *TopicPublisher) Publish(ctx context.Context, subject, key string, event any) error {
	producer, ok := p.producers[subject]
	if !ok {
		return fmt.Errorf("no producer configured for subject %s", subject)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
	}
	if err := producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", subject, err)
	}
	return nil
}

// Close closes every producer, returning the first error encountered.
func (p *TopicPublisher) Close() error {
	var firstErr error
	for subject, producer := range p.producers {
		if err := producer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close producer for %s: %w", subject, err)
		}
	}
	return firstErr
}
