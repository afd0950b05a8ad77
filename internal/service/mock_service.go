package service

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) OnPollSeen(ctx context.Context, seen domain.PollSeen) error {
	args := m.Called(ctx, seen)
	return args.Error(0)
}

func (m *MockService) OnTallyUpdate(ctx context.Context, pollID string, update domain.TallyUpdate) error {
	args := m.Called(ctx, pollID, update)
	return args.Error(0)
}

func (m *MockService) SeedHints(ctx context.Context, pollID string, hints domain.Hints) error {
	args := m.Called(ctx, pollID, hints)
	return args.Error(0)
}

func (m *MockService) GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	args := m.Called(ctx, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PollRecord), args.Error(1)
}

func (m *MockService) ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	args := m.Called(ctx, chatID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PollRecord), args.Error(1)
}

func (m *MockService) ApplyRequested(ctx context.Context, cmd ApplyCommand) (domain.Outcome, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(domain.Outcome), args.Error(1)
}

func (m *MockService) ListRules(ctx context.Context) ([]domain.Rule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Rule), args.Error(1)
}

func (m *MockService) GetRule(ctx context.Context, number int) (*domain.Rule, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rule), args.Error(1)
}

func (m *MockService) AddReminder(ctx context.Context, chatID int64, req *domain.CreateReminderRequest) (*domain.Reminder, error) {
	args := m.Called(ctx, chatID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reminder), args.Error(1)
}

func (m *MockService) ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Reminder), args.Error(1)
}

func (m *MockService) DeleteReminder(ctx context.Context, chatID, id, userID int64) error {
	args := m.Called(ctx, chatID, id, userID)
	return args.Error(0)
}

func (m *MockService) Health(ctx context.Context) (*Health, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Health), args.Error(1)
}
