package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func marketPoll() domain.PollSeen {
	return domain.PollSeen{
		PollID:        "poll-7",
		ChatID:        -1001,
		MessageID:     55,
		CreatorUserID: 42,
		Question:      "Teniamo la regola 7 sul mercato?",
		Options:       []string{"Sì", "No"},
	}
}

func TestTracker_StateProgression(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(memory.NewStore(), zap.NewNop())

	require.NoError(t, tracker.OnPollSeen(ctx, marketPoll()))
	poll, err := tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateCreated, poll.State())

	require.NoError(t, tracker.OnTallyUpdate(ctx, "poll-7", map[string]int{"Sì": 1}, false))
	poll, err = tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateTallying, poll.State())

	require.NoError(t, tracker.OnTallyUpdate(ctx, "poll-7", map[string]int{"Sì": 2, "No": 5}, true))
	poll, err = tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateClosed, poll.State())

	require.NoError(t, tracker.MarkApplied(ctx, "poll-7"))
	poll, err = tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateApplied, poll.State())

	// Late tallies still land but the poll stays applied.
	require.NoError(t, tracker.OnTallyUpdate(ctx, "poll-7", map[string]int{"Sì": 3, "No": 5}, true))
	poll, err = tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateApplied, poll.State())
	assert.Equal(t, 3, poll.Results["Sì"])
}

func TestTracker_OnPollSeenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(memory.NewStore(), zap.NewNop())
	seen := marketPoll()

	require.NoError(t, tracker.OnPollSeen(ctx, seen))
	require.NoError(t, tracker.OnTallyUpdate(ctx, seen.PollID, map[string]int{"Sì": 2, "No": 5}, false))
	require.NoError(t, tracker.OnPollSeen(ctx, seen))
	require.NoError(t, tracker.OnPollSeen(ctx, seen))

	poll, err := tracker.Get(ctx, seen.PollID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Sì": 2, "No": 5}, poll.Results)
}

func TestTracker_OnPollSeenValidation(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(memory.NewStore(), zap.NewNop())

	seen := marketPoll()
	seen.PollID = " "
	assert.ErrorIs(t, tracker.OnPollSeen(ctx, seen), domain.ErrInvalidInput)

	seen = marketPoll()
	seen.Question = ""
	assert.ErrorIs(t, tracker.OnPollSeen(ctx, seen), domain.ErrInvalidInput)
}

func TestTracker_TallyBeforeSeen(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tracker := NewTracker(store, zap.NewNop())

	err := tracker.OnTallyUpdate(ctx, "orphan", map[string]int{"Sì": 4}, true)
	assert.ErrorIs(t, err, domain.ErrPollNotFound)

	_, err = tracker.Get(ctx, "orphan")
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
}

func TestTracker_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		snapshot domain.PollSnapshot
		expected domain.PollState
	}{
		{
			name:     "metadata only",
			snapshot: domain.PollSnapshot{PollSeen: marketPoll()},
			expected: domain.PollStateCreated,
		},
		{
			name:     "with final tally",
			snapshot: domain.PollSnapshot{PollSeen: marketPoll(), Results: map[string]int{"No": 5}, IsClosed: true},
			expected: domain.PollStateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(memory.NewStore(), zap.NewNop())
			require.NoError(t, tracker.Register(ctx, tt.snapshot))

			poll, err := tracker.Get(ctx, tt.snapshot.PollID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, poll.State())
		})
	}
}

func TestTracker_SeedHints(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(memory.NewStore(), zap.NewNop())
	twelve, zero := 12, 0

	assert.ErrorIs(t, tracker.SeedHints(ctx, "missing", domain.Hints{Content: "x"}), domain.ErrPollNotFound)

	require.NoError(t, tracker.OnPollSeen(ctx, marketPoll()))
	assert.ErrorIs(t, tracker.SeedHints(ctx, "poll-7", domain.Hints{RuleNumber: &zero}), domain.ErrInvalidRuleNumber)
	require.NoError(t, tracker.SeedHints(ctx, "poll-7", domain.Hints{RuleNumber: &twelve, Content: "testo"}))

	poll, err := tracker.Get(ctx, "poll-7")
	require.NoError(t, err)
	assert.Equal(t, 12, *poll.Hints.RuleNumber)
	assert.Equal(t, "testo", poll.Hints.Content)
}

func TestTracker_StoreErrors(t *testing.T) {
	ctx := context.Background()
	storeErr := &domain.RepositoryError{Op: "upsert poll", Err: errors.New("disk full")}

	tests := []struct {
		name       string
		setupMocks func(*domain.MockStore)
		call       func(*Tracker) error
	}{
		{
			name: "seen",
			setupMocks: func(s *domain.MockStore) {
				s.On("UpsertPoll", mock.Anything, mock.Anything).Return(storeErr)
			},
			call: func(tr *Tracker) error { return tr.OnPollSeen(ctx, marketPoll()) },
		},
		{
			name: "tally",
			setupMocks: func(s *domain.MockStore) {
				s.On("UpdateTally", mock.Anything, "poll-7", mock.Anything, true).Return(storeErr)
			},
			call: func(tr *Tracker) error { return tr.OnTallyUpdate(ctx, "poll-7", map[string]int{}, true) },
		},
		{
			name: "applied",
			setupMocks: func(s *domain.MockStore) {
				s.On("MarkPollApplied", mock.Anything, "poll-7", mock.Anything).Return(storeErr)
			},
			call: func(tr *Tracker) error { return tr.MarkApplied(ctx, "poll-7") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(domain.MockStore)
			tt.setupMocks(store)

			err := tt.call(NewTracker(store, zap.NewNop()))
			var repoErr *domain.RepositoryError
			assert.ErrorAs(t, err, &repoErr)
			assert.Equal(t, domain.FailureTransient, domain.Classify(err))
			store.AssertExpectations(t)
		})
	}
}

func TestTracker_List(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(memory.NewStore(), zap.NewNop())
	require.NoError(t, tracker.OnPollSeen(ctx, marketPoll()))

	polls, err := tracker.List(ctx, -1001, domain.PollFilterOpen)
	require.NoError(t, err)
	assert.Len(t, polls, 1)

	_, err = tracker.List(ctx, -1001, domain.PollFilter("archived"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
