// Package events carries poll events in from the chat transport and apply
// outcomes back out to it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/google/uuid"
)

const (
	TypePollSeen       = "poll.seen"
	TypePollTally      = "poll.tally"
	TypeApplyRequested = "poll.apply_requested"
	TypeOutcome        = "rulebook.outcome"
	TypeRuleChanged    = "rule.changed"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEnvelope(eventType string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

type TallyEvent struct {
	PollID   string         `json:"pollId"`
	Results  map[string]int `json:"results"`
	IsClosed bool           `json:"isClosed"`
}

// ApplyRequestedEvent is the transport's "apply this poll" trigger, from
// the command, the callback button or the manual inline form.
type ApplyRequestedEvent struct {
	PollID   string               `json:"pollId,omitempty"`
	ChatID   int64                `json:"chatId"`
	UserID   int64                `json:"userId"`
	Snapshot *domain.PollSnapshot `json:"snapshot,omitempty"`
	Inline   *domain.InlinePoll   `json:"inline,omitempty"`
	Hints    domain.Hints         `json:"hints"`
}

// OutcomeEvent reports an apply result to the chat the request came from.
type OutcomeEvent struct {
	CorrelationID string          `json:"correlationId"`
	ChatID        int64           `json:"chatId"`
	UserID        int64           `json:"userId"`
	PollID        string          `json:"pollId,omitempty"`
	Outcome       *domain.Outcome `json:"outcome,omitempty"`
	Failure       string          `json:"failure,omitempty"`
	Retryable     bool            `json:"retryable"`
	Reply         string          `json:"reply"`
}

type RuleChangedEvent struct {
	Action     domain.Action `json:"action"`
	RuleNumber int           `json:"ruleNumber"`
	Content    string        `json:"content,omitempty"`
	ChatID     int64         `json:"chatId"`
	PollID     string        `json:"pollId,omitempty"`
}

type Publisher interface {
	PublishOutcome(ctx context.Context, event OutcomeEvent) error
	PublishRuleChanged(ctx context.Context, event RuleChangedEvent) error
	Close() error
}

// NopPublisher drops every event. Used when events.driver is none.
type NopPublisher struct{}

func (NopPublisher) PublishOutcome(context.Context, OutcomeEvent) error { return nil }

func (NopPublisher) PublishRuleChanged(context.Context, RuleChangedEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
