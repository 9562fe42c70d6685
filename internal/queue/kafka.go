package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/IBM/sarama"
)

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaDispatcher publishes event ids to a topic for a consumer group.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic}
}

func (d *KafkaDispatcher) Dispatch(_ context.Context, eventID int64) error {
	id := strconv.FormatInt(eventID, 10)
	_, _, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(id),
		Value: sarama.StringEncoder(id),
	})
	if err != nil {
		return fmt.Errorf("dispatch webhook event %d: %w", eventID, err)
	}
	return nil
}

// KafkaConsumer feeds a Handler from a consumer group.
type KafkaConsumer struct {
	group  sarama.ConsumerGroup
	topics []string
	log    *slog.Logger
}

func NewKafkaConsumer(brokers []string, groupID, topic string, log *slog.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return &KafkaConsumer{group: group, topics: []string{topic}, log: log}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	h := &groupHandler{handle: handle, log: c.log}
	for {
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handle Handler
	log    *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message, including failed ones. Unprocessed
// events stay in the database and are replayed by the sweeper.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			id, err := strconv.ParseInt(string(msg.Value), 10, 64)
			if err != nil {
				h.log.Error("bad webhook event id on topic", "topic", msg.Topic, "offset", msg.Offset, "error", err)
				sess.MarkMessage(msg, "")
				continue
			}
			if err := h.handle(sess.Context(), id); err != nil {
				jobsTotal.WithLabelValues("error").Inc()
				h.log.Warn("webhook job failed", "event_id", id, "error", err)
			} else {
				jobsTotal.WithLabelValues("ok").Inc()
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
