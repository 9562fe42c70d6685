// Package events publishes payment domain events after their unit of work
// has committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const TypePaymentSucceeded = "payment.succeeded"

type PaymentSucceeded struct {
	Type          string    `json:"type"`
	BusinessID    int64     `json:"business_id"`
	Reference     string    `json:"reference"`
	TransactionID int64     `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	Currency      string    `json:"currency"`
	Channel       string    `json:"channel"`
	Mode          string    `json:"mode"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	PaymentSucceeded(ctx context.Context, ev PaymentSucceeded) error
}

// Nop discards events.
type Nop struct{}

func (Nop) PaymentSucceeded(context.Context, PaymentSucceeded) error { return nil }

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PaymentSucceeded sends ev keyed by reference so events for one payment
// keep their order within a partition.
func (p *KafkaPublisher) PaymentSucceeded(_ context.Context, ev PaymentSucceeded) error {
	if ev.Type == "" {
		ev.Type = TypePaymentSucceeded
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Reference),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.Reference, err)
	}
	return nil
}
