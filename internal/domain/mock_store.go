package domain

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertRule(ctx context.Context, number int, text string) (*Rule, error) {
	args := m.Called(ctx, number, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Rule), args.Error(1)
}

func (m *MockStore) GetRule(ctx context.Context, number int) (*Rule, bool, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*Rule), args.Bool(1), args.Error(2)
}

func (m *MockStore) ListRules(ctx context.Context) ([]Rule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Rule), args.Error(1)
}

func (m *MockStore) DeleteRule(ctx context.Context, number int) error {
	args := m.Called(ctx, number)
	return args.Error(0)
}

func (m *MockStore) RuleExists(ctx context.Context, number int) (bool, error) {
	args := m.Called(ctx, number)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) NextRuleNumber(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) UpsertPoll(ctx context.Context, seen PollSeen) error {
	args := m.Called(ctx, seen)
	return args.Error(0)
}

func (m *MockStore) UpdateTally(ctx context.Context, pollID string, results map[string]int, isClosed bool) error {
	args := m.Called(ctx, pollID, results, isClosed)
	return args.Error(0)
}

func (m *MockStore) GetPoll(ctx context.Context, pollID string) (*PollRecord, error) {
	args := m.Called(ctx, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PollRecord), args.Error(1)
}

func (m *MockStore) SetPollHints(ctx context.Context, pollID string, hints Hints) error {
	args := m.Called(ctx, pollID, hints)
	return args.Error(0)
}

func (m *MockStore) MarkPollApplied(ctx context.Context, pollID string, at time.Time) error {
	args := m.Called(ctx, pollID, at)
	return args.Error(0)
}

func (m *MockStore) ListPolls(ctx context.Context, chatID int64, filter PollFilter) ([]PollRecord, error) {
	args := m.Called(ctx, chatID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PollRecord), args.Error(1)
}

func (m *MockStore) CreateReminder(ctx context.Context, reminder *Reminder) error {
	args := m.Called(ctx, reminder)
	return args.Error(0)
}

func (m *MockStore) ListReminders(ctx context.Context, chatID int64) ([]Reminder, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Reminder), args.Error(1)
}

func (m *MockStore) GetReminder(ctx context.Context, chatID, id int64) (*Reminder, error) {
	args := m.Called(ctx, chatID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reminder), args.Error(1)
}

func (m *MockStore) DeleteReminder(ctx context.Context, chatID, id int64) error {
	args := m.Called(ctx, chatID, id)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
