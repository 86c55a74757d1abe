package kafka

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

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
)

func testConfig(retries int) *config.KafkaConfig {
	return &config.KafkaConfig{
		Enabled:        true,
		Brokers:        []string{"127.0.0.1:9092"},
		Topic:          "strangers.session-events",
		MaxRetries:     retries,
		RetryBackoffMs: 1,
	}
}

func TestProducer_Send(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e events.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != events.UserBlocked || e.SessionID != "s1" || e.Data["user_id"] != "10" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducerFromClient(mock, testConfig(0))
	err := p.Send(context.Background(), events.Event{
		Type:      events.UserBlocked,
		SessionID: "s1",
		At:        time.Now(),
		Data:      map[string]any{"user_id": "10"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_SendRetries(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	mock.ExpectSendMessageAndSucceed()

	p := NewProducerFromClient(mock, testConfig(2))
	require.NoError(t, p.Send(context.Background(), events.Event{Type: events.LoggedIn, SessionID: "s1"}))
	require.NoError(t, p.Close())
}

func TestProducer_SendGivesUp(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFromClient(mock, testConfig(1))
	err := p.Send(context.Background(), events.Event{Type: events.LoggedIn, SessionID: "s1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_ImplementsSink(t *testing.T) {
	var _ events.Sink = (*Producer)(nil)
}

// TestNewProducer requires a running Kafka instance.
func TestNewProducer(t *testing.T) {
	p, err := NewProducer(testConfig(0))
	if err != nil {
		t.Skipf("Skipping test: Kafka not available: %v", err)
		return
	}
	defer p.Close()
	assert.Equal(t, "strangers.session-events", p.topic)
}
