package alert

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the part of *nsq.Producer the alert feed needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSubscriber publishes every retained alert as JSON on an NSQ topic.
type NSQSubscriber struct {
	producer Publisher
	topic    string
}

func NewNSQSubscriber(producer Publisher, topic string) *NSQSubscriber {
	return &NSQSubscriber{producer: producer, topic: topic}
}

func (s *NSQSubscriber) HandleAlert(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	if err := s.producer.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish alert %s to %s: %w", a.ID, s.topic, err)
	}
	return nil
}
