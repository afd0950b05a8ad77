package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) HandlePollSeen(ctx context.Context, seen domain.PollSeen) error {
	return m.Called(ctx, seen).Error(0)
}

func (m *MockHandler) HandleTally(ctx context.Context, tally TallyEvent) error {
	return m.Called(ctx, tally).Error(0)
}

func (m *MockHandler) HandleApplyRequested(ctx context.Context, correlationID string, req ApplyRequestedEvent) error {
	return m.Called(ctx, correlationID, req).Error(0)
}

func envelopeBody(t *testing.T, eventType string, data interface{}) ([]byte, string) {
	t.Helper()
	envelope, err := NewEnvelope(eventType, data)
	require.NoError(t, err)
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body, envelope.ID
}

func TestDispatch(t *testing.T) {
	seen := domain.PollSeen{PollID: "poll-7", ChatID: -1001, Question: "Teniamo la regola 7?", Options: []string{"Sì", "No"}}
	tally := TallyEvent{PollID: "poll-7", Results: map[string]int{"Sì": 2, "No": 5}, IsClosed: true}
	apply := ApplyRequestedEvent{PollID: "poll-7", ChatID: -1001, UserID: 42}

	t.Run("poll seen", func(t *testing.T) {
		h := new(MockHandler)
		h.On("HandlePollSeen", mock.Anything, seen).Return(nil)
		body, _ := envelopeBody(t, TypePollSeen, seen)

		require.NoError(t, Dispatch(context.Background(), h, body))
		h.AssertExpectations(t)
	})

	t.Run("tally", func(t *testing.T) {
		h := new(MockHandler)
		h.On("HandleTally", mock.Anything, tally).Return(nil)
		body, _ := envelopeBody(t, TypePollTally, tally)

		require.NoError(t, Dispatch(context.Background(), h, body))
		h.AssertExpectations(t)
	})

	t.Run("apply carries envelope id", func(t *testing.T) {
		h := new(MockHandler)
		body, id := envelopeBody(t, TypeApplyRequested, apply)
		h.On("HandleApplyRequested", mock.Anything, id, apply).Return(domain.ErrUnauthorized)

		err := Dispatch(context.Background(), h, body)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		h.AssertExpectations(t)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		h := new(MockHandler)
		unknown, _ := envelopeBody(t, "poll.deleted", seen)

		for _, body := range [][]byte{[]byte("{"), unknown, []byte(`{"type":"poll.tally","data":"nope"}`)} {
			err := Dispatch(context.Background(), h, body)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		}
		h.AssertNotCalled(t, "HandleTally", mock.Anything, mock.Anything)
	})
}

func TestRequeue(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		expected    bool
	}{
		{"success", nil, false, false},
		{"store outage", &domain.RepositoryError{Op: "upsert poll", Err: errors.New("connection reset")}, false, true},
		{"store outage redelivered", &domain.RepositoryError{Op: "upsert poll", Err: errors.New("connection reset")}, true, false},
		{"timeout", fmt.Errorf("consult oracle: %w", domain.ErrTimedOut), false, true},
		{"unauthorized", domain.ErrUnauthorized, false, false},
		{"tally before seen", domain.ErrPollNotFound, false, false},
		{"malformed", fmt.Errorf("%w: unmarshal event", domain.ErrInvalidInput), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Requeue(tt.err, tt.redelivered))
		})
	}
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func TestRabbitMQPublisher_PublishOutcome(t *testing.T) {
	outcome := domain.Applied(domain.ActionAdd, 13, "Nuova regola X", false)
	event := OutcomeEvent{CorrelationID: "c-1", ChatID: -1001, Outcome: &outcome, Reply: "ok"}

	ch := new(MockChannel)
	ch.On("PublishWithContext", mock.Anything, "rulebook", TypeOutcome, false, false, mock.MatchedBy(func(msg amqp.Publishing) bool {
		var envelope Envelope
		if err := json.Unmarshal(msg.Body, &envelope); err != nil {
			return false
		}
		var got OutcomeEvent
		if err := json.Unmarshal(envelope.Data, &got); err != nil {
			return false
		}
		return envelope.Type == TypeOutcome &&
			envelope.ID == msg.MessageId &&
			msg.DeliveryMode == amqp.Persistent &&
			got.Outcome != nil && got.Outcome.RuleNumber == 13
	})).Return(nil)

	publisher := &RabbitMQPublisher{channel: ch, exchange: "rulebook", logger: zap.NewNop()}
	require.NoError(t, publisher.PublishOutcome(context.Background(), event))
	ch.AssertExpectations(t)
}

func TestRabbitMQPublisher_PublishError(t *testing.T) {
	ch := new(MockChannel)
	ch.On("PublishWithContext", mock.Anything, "rulebook", TypeRuleChanged, false, false, mock.Anything).
		Return(amqp.ErrClosed)

	publisher := &RabbitMQPublisher{channel: ch, exchange: "rulebook", logger: zap.NewNop()}
	err := publisher.PublishRuleChanged(context.Background(), RuleChangedEvent{Action: domain.ActionRemove, RuleNumber: 7})
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*redis.IntCmd)
}

func (m *MockRedis) Close() error {
	return m.Called().Error(0)
}

func TestRedisPublisher(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		channel    string
		publishErr error
	}{
		{"prefixed channel", "rulebook", "rulebook.rule.changed", nil},
		{"bare channel", "", "rule.changed", nil},
		{"redis down", "rulebook", "rulebook.rule.changed", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockRedis)
			client.On("Publish", mock.Anything, tt.channel, mock.AnythingOfType("[]uint8")).
				Return(redis.NewIntResult(1, tt.publishErr))

			publisher := NewRedisPublisher(client, tt.prefix, zap.NewNop())
			err := publisher.PublishRuleChanged(context.Background(), RuleChangedEvent{Action: domain.ActionAdd, RuleNumber: 13})
			if tt.publishErr != nil {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			client.AssertExpectations(t)
		})
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishOutcome(context.Background(), OutcomeEvent{}))
	assert.NoError(t, p.PublishRuleChanged(context.Background(), RuleChangedEvent{}))
	assert.NoError(t, p.Close())
}
