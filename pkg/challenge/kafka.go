package challenge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// CompletionsTopic carries CompletionEvent records from the api to the
// announcer. Consumer-group delivery is at-least-once; events are keyed by
// room so one room's announcements stay in order.
const CompletionsTopic = "challenge-completions"

// KafkaPublisher writes completion events to the completions topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    CompletionsTopic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) PublishCompletion(ctx context.Context, ev CompletionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Room),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write completion event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
