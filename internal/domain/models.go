package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type Rule struct {
	Number    int       `json:"number" db:"number"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// PollState is derived from a PollRecord, never stored.
type PollState string

const (
	PollStateCreated  PollState = "created"
	PollStateTallying PollState = "tallying"
	PollStateClosed   PollState = "closed"
	PollStateApplied  PollState = "applied"
)

type PollRecord struct {
	PollID        string         `json:"pollId"`
	ChatID        int64          `json:"chatId"`
	MessageID     int64          `json:"messageId"`
	CreatorUserID int64          `json:"creatorUserId"`
	Question      string         `json:"question"`
	Options       []string       `json:"options"`
	Results       map[string]int `json:"results,omitempty"`
	IsClosed      bool           `json:"isClosed"`
	Hints         Hints          `json:"hints"`
	AppliedAt     *time.Time     `json:"appliedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (p *PollRecord) State() PollState {
	switch {
	case p.AppliedAt != nil:
		return PollStateApplied
	case p.IsClosed:
		return PollStateClosed
	case p.Results != nil:
		return PollStateTallying
	default:
		return PollStateCreated
	}
}

// Tally returns the results ordered by count descending. Ties keep the
// option order, then option text order for entries not among the options.
func (p *PollRecord) Tally() []OptionCount {
	if len(p.Results) == 0 {
		return nil
	}
	position := make(map[string]int, len(p.Options))
	for i, opt := range p.Options {
		if _, ok := position[opt]; !ok {
			position[opt] = i
		}
	}
	tally := make([]OptionCount, 0, len(p.Results))
	for opt, count := range p.Results {
		tally = append(tally, OptionCount{Option: opt, Count: count})
	}
	sort.SliceStable(tally, func(i, j int) bool {
		if tally[i].Count != tally[j].Count {
			return tally[i].Count > tally[j].Count
		}
		pi, iok := position[tally[i].Option]
		pj, jok := position[tally[j].Option]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return tally[i].Option < tally[j].Option
		}
	})
	return tally
}

type OptionCount struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
}

// TallySummary renders "opt: count, opt: count" in the given order.
func TallySummary(tally []OptionCount) string {
	parts := make([]string, 0, len(tally))
	for _, oc := range tally {
		parts = append(parts, oc.Option+": "+strconv.Itoa(oc.Count))
	}
	return strings.Join(parts, ", ")
}

// PollSeen is the metadata the chat transport reports when a poll is first
// observed or redelivered.
type PollSeen struct {
	PollID        string   `json:"pollId" binding:"required"`
	ChatID        int64    `json:"chatId" binding:"required"`
	MessageID     int64    `json:"messageId"`
	CreatorUserID int64    `json:"creatorUserId"`
	Question      string   `json:"question" binding:"required"`
	Options       []string `json:"options" binding:"required,min=1"`
}

type TallyUpdate struct {
	Results  map[string]int `json:"results" binding:"required"`
	IsClosed bool           `json:"isClosed"`
}

// PollSnapshot is a poll reconstructed from the original poll message, used
// when an apply targets a poll that was never recorded.
type PollSnapshot struct {
	PollSeen
	Results  map[string]int `json:"results,omitempty"`
	IsClosed bool           `json:"isClosed"`
}

// InlinePoll describes a poll typed by an administrator instead of one
// collected through the chat. It is never persisted.
type InlinePoll struct {
	Question      string   `json:"question" binding:"required"`
	WinningOption string   `json:"winningOption" binding:"required"`
	Options       []string `json:"options"`
}

// Hints are optional back-fill values for a single apply call.
type Hints struct {
	RuleNumber *int   `json:"ruleNumber,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Merge returns h with every field set in override replacing it.
func (h Hints) Merge(override Hints) Hints {
	out := h
	if override.RuleNumber != nil {
		n := *override.RuleNumber
		out.RuleNumber = &n
	}
	if override.Content != "" {
		out.Content = override.Content
	}
	return out
}

type PollFilter string

const (
	PollFilterAll    PollFilter = ""
	PollFilterOpen   PollFilter = "open"
	PollFilterClosed PollFilter = "closed"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Intent is the validated action an apply call is about to execute.
type Intent struct {
	Action     Action
	RuleNumber *int
	Content    string
}

type OutcomeKind string

const (
	OutcomeApplied     OutcomeKind = "applied"
	OutcomeNoOpRemoved OutcomeKind = "noop_removed"
)

type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Action     Action      `json:"action"`
	RuleNumber int         `json:"ruleNumber"`
	Content    string      `json:"content,omitempty"`
	// Replaced is true when an add or update overwrote an existing rule.
	Replaced bool `json:"replaced"`
}

func Applied(action Action, number int, content string, replaced bool) Outcome {
	return Outcome{Kind: OutcomeApplied, Action: action, RuleNumber: number, Content: content, Replaced: replaced}
}

func NoOpRemoved(number int) Outcome {
	return Outcome{Kind: OutcomeNoOpRemoved, Action: ActionRemove, RuleNumber: number}
}

// Label is "added", "updated" or "removed" for applied outcomes.
func (o Outcome) Label() string {
	switch {
	case o.Kind == OutcomeNoOpRemoved:
		return "nothing to remove"
	case o.Action == ActionRemove:
		return "removed"
	case o.Replaced:
		return "updated"
	default:
		return "added"
	}
}

type Reminder struct {
	ID        int64     `json:"id" db:"id"`
	ChatID    int64     `json:"chatId" db:"chat_id"`
	UserID    int64     `json:"userId" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type CreateReminderRequest struct {
	UserID int64  `json:"userId" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

type DeleteReminderRequest struct {
	UserID int64 `json:"userId" form:"userId" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
