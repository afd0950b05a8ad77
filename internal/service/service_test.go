package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/behzadon/rulebook/internal/admin"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/events"
	"github.com/behzadon/rulebook/internal/lifecycle"
	"github.com/behzadon/rulebook/internal/oracle"
	"github.com/behzadon/rulebook/internal/resolution"
	"github.com/behzadon/rulebook/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Apply(ctx context.Context, req resolution.Request) (domain.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Outcome), args.Error(1)
}

type testDeps struct {
	store     *memory.Store
	tracker   *lifecycle.Tracker
	applier   *MockApplier
	admins    *admin.MockChecker
	publisher *events.MockPublisher
}

func newTestService(t *testing.T) (Service, *testDeps) {
	t.Helper()
	store := memory.NewStore()
	deps := &testDeps{
		store:     store,
		tracker:   lifecycle.NewTracker(store, zap.NewNop()),
		applier:   new(MockApplier),
		admins:    new(admin.MockChecker),
		publisher: new(events.MockPublisher),
	}
	svc := NewService(store, deps.tracker, deps.applier, deps.admins, deps.publisher, time.Second, zap.NewNop())
	return svc, deps
}

func seenPoll() domain.PollSeen {
	return domain.PollSeen{
		PollID:   "poll-7",
		ChatID:   -1001,
		Question: "Teniamo la regola 7 sul mercato?",
		Options:  []string{"Sì", "No"},
	}
}

func TestService_ApplyRequested(t *testing.T) {
	removed := domain.Applied(domain.ActionRemove, 7, "", true)

	tests := []struct {
		name         string
		cmd          ApplyCommand
		setupMocks   func(*testDeps)
		expectErr    error
		expectedKind domain.PollState
	}{
		{
			name: "admin applies stored poll",
			cmd:  ApplyCommand{CorrelationID: "c-1", ChatID: -1001, UserID: 42, PollID: "poll-7"},
			setupMocks: func(d *testDeps) {
				d.admins.On("IsAdmin", mock.Anything, int64(-1001), int64(42)).Return(true, nil)
				d.applier.On("Apply", mock.Anything, mock.MatchedBy(func(req resolution.Request) bool {
					return req.RequesterIsAdmin && req.PollID == "poll-7"
				})).Return(removed, nil)
				d.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e events.OutcomeEvent) bool {
					return e.CorrelationID == "c-1" && e.Outcome != nil && e.Failure == "" &&
						e.Reply == "✅ Regola 7 rimossa con successo."
				})).Return(nil)
				d.publisher.On("PublishRuleChanged", mock.Anything, events.RuleChangedEvent{
					Action: domain.ActionRemove, RuleNumber: 7, ChatID: -1001, PollID: "poll-7",
				}).Return(nil)
			},
			expectedKind: domain.PollStateApplied,
		},
		{
			name: "non-admin is refused",
			cmd:  ApplyCommand{CorrelationID: "c-2", ChatID: -1001, UserID: 99, PollID: "poll-7"},
			setupMocks: func(d *testDeps) {
				d.admins.On("IsAdmin", mock.Anything, int64(-1001), int64(99)).Return(false, nil)
				d.applier.On("Apply", mock.Anything, mock.MatchedBy(func(req resolution.Request) bool {
					return !req.RequesterIsAdmin
				})).Return(domain.Outcome{}, domain.ErrUnauthorized)
				d.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e events.OutcomeEvent) bool {
					return e.Failure == string(domain.FailureUnauthorized) && !e.Retryable && e.Outcome == nil
				})).Return(nil)
			},
			expectErr:    domain.ErrUnauthorized,
			expectedKind: domain.PollStateCreated,
		},
		{
			name: "admin lookup error counts as non-admin",
			cmd:  ApplyCommand{ChatID: -1001, UserID: 42, PollID: "poll-7"},
			setupMocks: func(d *testDeps) {
				d.admins.On("IsAdmin", mock.Anything, int64(-1001), int64(42)).Return(false, errors.New("telegram down"))
				d.applier.On("Apply", mock.Anything, mock.MatchedBy(func(req resolution.Request) bool {
					return !req.RequesterIsAdmin
				})).Return(domain.Outcome{}, domain.ErrUnauthorized)
				d.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e events.OutcomeEvent) bool {
					return e.CorrelationID != ""
				})).Return(nil)
			},
			expectErr:    domain.ErrUnauthorized,
			expectedKind: domain.PollStateCreated,
		},
		{
			name: "publish failure does not fail the apply",
			cmd:  ApplyCommand{ChatID: -1001, UserID: 42, PollID: "poll-7"},
			setupMocks: func(d *testDeps) {
				d.admins.On("IsAdmin", mock.Anything, int64(-1001), int64(42)).Return(true, nil)
				d.applier.On("Apply", mock.Anything, mock.Anything).Return(domain.NoOpRemoved(7), nil)
				d.publisher.On("PublishOutcome", mock.Anything, mock.Anything).Return(errors.New("broker down"))
			},
			expectedKind: domain.PollStateApplied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, deps := newTestService(t)
			require.NoError(t, deps.tracker.OnPollSeen(ctx, seenPoll()))
			tt.setupMocks(deps)

			_, err := svc.ApplyRequested(ctx, tt.cmd)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}

			poll, err := deps.tracker.Get(ctx, "poll-7")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedKind, poll.State())

			deps.admins.AssertExpectations(t)
			deps.applier.AssertExpectations(t)
			deps.publisher.AssertExpectations(t)
		})
	}
}

func TestService_ApplyRequested_AppliesDeadline(t *testing.T) {
	svc, deps := newTestService(t)
	deps.admins.On("IsAdmin", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	deps.applier.On("Apply", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(domain.Outcome{}, domain.ErrNoActionDetermined)
	deps.publisher.On("PublishOutcome", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.ApplyRequested(context.Background(), ApplyCommand{
		ChatID: -1001,
		UserID: 42,
		Inline: &domain.InlinePoll{Question: "Domanda?", WinningOption: "Sì"},
	})
	assert.ErrorIs(t, err, domain.ErrNoActionDetermined)
	deps.applier.AssertExpectations(t)
}

func TestService_ApplyRequested_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tracker := lifecycle.NewTracker(store, zap.NewNop())
	decider := new(oracle.MockOracle)
	engine := resolution.NewEngine(store, tracker, decider, zap.NewNop())
	admins := admin.NewStaticChecker([]int64{42})

	svc := NewService(store, tracker, engine, admins, events.NopPublisher{}, time.Second, zap.NewNop())

	_, err := store.UpsertRule(ctx, 12, "Dodici.")
	require.NoError(t, err)
	require.NoError(t, svc.OnPollSeen(ctx, seenPoll()))
	require.NoError(t, svc.OnTallyUpdate(ctx, "poll-7", domain.TallyUpdate{Results: map[string]int{"Sì": 5, "No": 1}, IsClosed: true}))

	content := "Nuova regola X"
	decider.On("Decide", mock.Anything, mock.Anything).
		Return([]oracle.Directive{{Name: oracle.AddRule, Arguments: oracle.Arguments{Content: &content}}}, nil)

	outcome, err := svc.ApplyRequested(ctx, ApplyCommand{ChatID: -1001, UserID: 42, PollID: "poll-7"})
	require.NoError(t, err)
	assert.Equal(t, domain.Applied(domain.ActionAdd, 13, content, false), outcome)

	rule, err := svc.GetRule(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, content, rule.Text)

	polls, err := svc.ListPolls(ctx, -1001, domain.PollFilterClosed)
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, domain.PollStateApplied, polls[0].State())

	_, err = svc.ApplyRequested(ctx, ApplyCommand{ChatID: -1001, UserID: 7, PollID: "poll-7"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestService_GetRule(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t)
	_, err := deps.store.UpsertRule(ctx, 3, "Tre.")
	require.NoError(t, err)

	rule, err := svc.GetRule(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Tre.", rule.Text)

	_, err = svc.GetRule(ctx, 4)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetRule(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRuleNumber)
}

func TestService_Reminders(t *testing.T) {
	ctx := context.Background()

	t.Run("add and list", func(t *testing.T) {
		svc, _ := newTestService(t)

		reminder, err := svc.AddReminder(ctx, -1001, &domain.CreateReminderRequest{UserID: 42, Text: "  Portare la birra  "})
		require.NoError(t, err)
		assert.Equal(t, "Portare la birra", reminder.Text)
		assert.NotZero(t, reminder.ID)

		_, err = svc.AddReminder(ctx, -1001, &domain.CreateReminderRequest{UserID: 42, Text: "   "})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		reminders, err := svc.ListReminders(ctx, -1001)
		require.NoError(t, err)
		assert.Len(t, reminders, 1)
	})

	tests := []struct {
		name       string
		userID     int64
		setupMocks func(*admin.MockChecker)
		expectErr  error
	}{
		{
			name:       "author deletes",
			userID:     42,
			setupMocks: func(m *admin.MockChecker) {},
		},
		{
			name:   "admin deletes",
			userID: 7,
			setupMocks: func(m *admin.MockChecker) {
				m.On("IsAdmin", mock.Anything, int64(-1001), int64(7)).Return(true, nil)
			},
		},
		{
			name:   "stranger is forbidden",
			userID: 99,
			setupMocks: func(m *admin.MockChecker) {
				m.On("IsAdmin", mock.Anything, int64(-1001), int64(99)).Return(false, nil)
			},
			expectErr: domain.ErrForbidden,
		},
		{
			name:   "lookup failure is forbidden",
			userID: 99,
			setupMocks: func(m *admin.MockChecker) {
				m.On("IsAdmin", mock.Anything, int64(-1001), int64(99)).Return(false, errors.New("timeout"))
			},
			expectErr: domain.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, deps := newTestService(t)
			tt.setupMocks(deps.admins)

			reminder, err := svc.AddReminder(ctx, -1001, &domain.CreateReminderRequest{UserID: 42, Text: "Asta sabato"})
			require.NoError(t, err)

			err = svc.DeleteReminder(ctx, -1001, reminder.ID, tt.userID)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				require.NoError(t, err)
				assert.ErrorIs(t, svc.DeleteReminder(ctx, -1001, reminder.ID, 42), domain.ErrNotFound)
			}
			deps.admins.AssertExpectations(t)
		})
	}
}

func TestService_Health(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t)
	_, err := deps.store.UpsertRule(ctx, 1, "Uno.")
	require.NoError(t, err)

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Health{Status: "ok", Rules: 1}, health)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	health, err = svc.Health(canceled)
	assert.Error(t, err)
	assert.Equal(t, "unavailable", health.Status)
}

func TestEventHandler(t *testing.T) {
	ctx := context.Background()
	svc := new(MockService)
	handler := NewEventHandler(svc)

	svc.On("OnPollSeen", mock.Anything, seenPoll()).Return(nil)
	svc.On("OnTallyUpdate", mock.Anything, "poll-7", domain.TallyUpdate{Results: map[string]int{"No": 3}, IsClosed: true}).Return(nil)
	svc.On("ApplyRequested", mock.Anything, ApplyCommand{CorrelationID: "env-1", ChatID: -1001, UserID: 42, PollID: "poll-7"}).
		Return(domain.Outcome{}, domain.ErrTimedOut)

	require.NoError(t, handler.HandlePollSeen(ctx, seenPoll()))
	require.NoError(t, handler.HandleTally(ctx, events.TallyEvent{PollID: "poll-7", Results: map[string]int{"No": 3}, IsClosed: true}))
	err := handler.HandleApplyRequested(ctx, "env-1", events.ApplyRequestedEvent{PollID: "poll-7", ChatID: -1001, UserID: 42})
	assert.ErrorIs(t, err, domain.ErrTimedOut)
	svc.AssertExpectations(t)
}
