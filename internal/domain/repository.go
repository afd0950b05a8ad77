package domain

import (
	"context"
	"time"
)

// RuleRepository is the numbered rulebook. Writes are atomic per rule number.
type RuleRepository interface {
	// UpsertRule adds number or replaces its text. Concurrent writers to the
	// same number serialize and the last one wins.
	UpsertRule(ctx context.Context, number int, text string) (*Rule, error)
	// GetRule reports found=false for an absent number.
	GetRule(ctx context.Context, number int) (*Rule, bool, error)
	// ListRules returns every rule ascending by number.
	ListRules(ctx context.Context) ([]Rule, error)
	// DeleteRule is a no-op for an absent number.
	DeleteRule(ctx context.Context, number int) error
	RuleExists(ctx context.Context, number int) (bool, error)
	// NextRuleNumber returns max(number)+1, or 1 for an empty rulebook. The
	// number is not reserved: two callers may receive the same value and the
	// later upsert overwrites the earlier one.
	NextRuleNumber(ctx context.Context) (int, error)
}

type PollRepository interface {
	// UpsertPoll writes the poll metadata. Results, closure, hints and the
	// applied timestamp of an existing record are left untouched.
	UpsertPoll(ctx context.Context, seen PollSeen) error
	// UpdateTally replaces results and is_closed. It returns ErrNotFound for
	// an unknown poll and never creates one.
	UpdateTally(ctx context.Context, pollID string, results map[string]int, isClosed bool) error
	GetPoll(ctx context.Context, pollID string) (*PollRecord, error)
	SetPollHints(ctx context.Context, pollID string, hints Hints) error
	// MarkPollApplied records the first time a poll was applied.
	MarkPollApplied(ctx context.Context, pollID string, at time.Time) error
	ListPolls(ctx context.Context, chatID int64, filter PollFilter) ([]PollRecord, error)
}

type ReminderRepository interface {
	CreateReminder(ctx context.Context, reminder *Reminder) error
	ListReminders(ctx context.Context, chatID int64) ([]Reminder, error)
	GetReminder(ctx context.Context, chatID, id int64) (*Reminder, error)
	DeleteReminder(ctx context.Context, chatID, id int64) error
}

// Store bundles the repositories a storage backend provides.
type Store interface {
	RuleRepository
	PollRepository
	ReminderRepository
	Ping(ctx context.Context) error
	Close() error
}

// ValidRuleNumber rejects zero and negative rule numbers.
func ValidRuleNumber(number int) error {
	if number <= 0 {
		return ErrInvalidRuleNumber
	}
	return nil
}
