package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherSendsJSON(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer producer.Close()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev PaymentSucceeded
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != TypePaymentSucceeded || ev.Reference != "REF_1" || ev.Amount != 10000 {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	pub := NewKafkaPublisher(producer, "payments.succeeded")
	err := pub.PaymentSucceeded(context.Background(), PaymentSucceeded{
		BusinessID: 1,
		Reference:  "REF_1",
		Amount:     10000,
		Currency:   "NGN",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestKafkaPublisherWrapsSendError(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewKafkaPublisher(producer, "payments.succeeded").
		PaymentSucceeded(context.Background(), PaymentSucceeded{Reference: "REF_2"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}
