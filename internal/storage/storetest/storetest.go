// Package storetest holds the behaviour every domain.Store backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) domain.Store) {
	t.Helper()

	t.Run("DeleteAbsentRuleIsNoOp", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		exists, err := s.RuleExists(ctx, 42)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.DeleteRule(ctx, 42))
		require.NoError(t, s.DeleteRule(ctx, 42))

		exists, err = s.RuleExists(ctx, 42)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("UpsertReplacesText", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first, err := s.UpsertRule(ctx, 3, "prima versione")
		require.NoError(t, err)
		second, err := s.UpsertRule(ctx, 3, "seconda versione")
		require.NoError(t, err)

		rule, found, err := s.GetRule(ctx, 3)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "seconda versione", rule.Text)
		assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
		assert.False(t, rule.UpdatedAt.Before(first.UpdatedAt))
	})

	t.Run("GetAbsentRule", func(t *testing.T) {
		s := newStore(t)
		rule, found, err := s.GetRule(context.Background(), 9)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, rule)
	})

	t.Run("UpsertRejectsNonPositiveNumber", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertRule(context.Background(), 0, "zero")
		assert.ErrorIs(t, err, domain.ErrInvalidRuleNumber)
	})

	t.Run("ListRulesAscending", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, n := range []int{12, 1, 7} {
			_, err := s.UpsertRule(ctx, n, "regola")
			require.NoError(t, err)
		}

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, []int{1, 7, 12}, []int{rules[0].Number, rules[1].Number, rules[2].Number})
	})

	t.Run("NextRuleNumberIsMonotonic", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		n, err := s.NextRuleNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		for i := 0; i < 3; i++ {
			_, err = s.UpsertRule(ctx, n, "x")
			require.NoError(t, err)
			next, err := s.NextRuleNumber(ctx)
			require.NoError(t, err)
			assert.Greater(t, next, n)
			n = next
		}

		_, err = s.UpsertRule(ctx, 12, "x")
		require.NoError(t, err)
		n, err = s.NextRuleNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 13, n)
	})

	t.Run("ConcurrentUpsertsSameNumber", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpsertRule(ctx, 5, "contesa")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 1)
	})

	t.Run("PollUpsertKeepsResults", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		seen := samplePoll("p1")

		require.NoError(t, s.UpsertPoll(ctx, seen))
		require.NoError(t, s.UpdateTally(ctx, "p1", map[string]int{"Sì": 2, "No": 5}, false))
		require.NoError(t, s.UpsertPoll(ctx, seen))
		require.NoError(t, s.UpsertPoll(ctx, seen))

		poll, err := s.GetPoll(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"Sì": 2, "No": 5}, poll.Results)
		assert.Equal(t, []string{"Sì", "No"}, poll.Options)
		assert.Equal(t, domain.PollStateTallying, poll.State())
	})

	t.Run("PollUpsertOverwritesMetadata", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		seen := samplePoll("p1")
		require.NoError(t, s.UpsertPoll(ctx, seen))

		seen.Question = "Teniamo la regola 8?"
		seen.MessageID = 99
		require.NoError(t, s.UpsertPoll(ctx, seen))

		poll, err := s.GetPoll(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Teniamo la regola 8?", poll.Question)
		assert.Equal(t, int64(99), poll.MessageID)
		assert.Nil(t, poll.Results)
		assert.Equal(t, domain.PollStateCreated, poll.State())
	})

	t.Run("TallyForUnknownPoll", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		err := s.UpdateTally(ctx, "ghost", map[string]int{"Sì": 1}, true)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.GetPoll(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("TallyOverwritesWholesale", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("p1")))
		require.NoError(t, s.UpdateTally(ctx, "p1", map[string]int{"Sì": 2, "No": 5}, false))
		require.NoError(t, s.UpdateTally(ctx, "p1", map[string]int{"Sì": 3}, true))

		poll, err := s.GetPoll(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"Sì": 3}, poll.Results)
		assert.True(t, poll.IsClosed)
	})

	t.Run("HintsSurvivePollUpsert", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		seven := 7
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("p1")))
		require.NoError(t, s.SetPollHints(ctx, "p1", domain.Hints{RuleNumber: &seven, Content: "testo"}))
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("p1")))

		poll, err := s.GetPoll(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, poll.Hints.RuleNumber)
		assert.Equal(t, 7, *poll.Hints.RuleNumber)
		assert.Equal(t, "testo", poll.Hints.Content)
	})

	t.Run("MarkAppliedKeepsFirstTimestamp", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("p1")))

		first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkPollApplied(ctx, "p1", first))
		require.NoError(t, s.MarkPollApplied(ctx, "p1", first.Add(time.Hour)))

		poll, err := s.GetPoll(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, poll.AppliedAt)
		assert.True(t, poll.AppliedAt.Equal(first))
		assert.Equal(t, domain.PollStateApplied, poll.State())
	})

	t.Run("ListPollsByState", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("open")))
		require.NoError(t, s.UpsertPoll(ctx, samplePoll("closed")))
		require.NoError(t, s.UpdateTally(ctx, "closed", map[string]int{"No": 1}, true))
		other := samplePoll("elsewhere")
		other.ChatID = -200
		require.NoError(t, s.UpsertPoll(ctx, other))

		all, err := s.ListPolls(ctx, -100, domain.PollFilterAll)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		open, err := s.ListPolls(ctx, -100, domain.PollFilterOpen)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "open", open[0].PollID)

		closed, err := s.ListPolls(ctx, -100, domain.PollFilterClosed)
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.Equal(t, "closed", closed[0].PollID)
	})

	t.Run("Reminders", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		r1 := &domain.Reminder{ChatID: -100, UserID: 1, Text: "pagare la quota"}
		r2 := &domain.Reminder{ChatID: -100, UserID: 2, Text: "portare il pallone"}
		require.NoError(t, s.CreateReminder(ctx, r1))
		require.NoError(t, s.CreateReminder(ctx, r2))
		require.NoError(t, s.CreateReminder(ctx, &domain.Reminder{ChatID: -200, UserID: 1, Text: "altro"}))
		assert.NotZero(t, r1.ID)
		assert.NotEqual(t, r1.ID, r2.ID)

		list, err := s.ListReminders(ctx, -100)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "pagare la quota", list[0].Text)

		got, err := s.GetReminder(ctx, -100, r2.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.UserID)

		_, err = s.GetReminder(ctx, -200, r2.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, s.DeleteReminder(ctx, -100, r1.ID))
		assert.ErrorIs(t, s.DeleteReminder(ctx, -100, r1.ID), domain.ErrNotFound)

		list, err = s.ListReminders(ctx, -100)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func samplePoll(id string) domain.PollSeen {
	return domain.PollSeen{
		PollID:        id,
		ChatID:        -100,
		MessageID:     10,
		CreatorUserID: 1,
		Question:      "Teniamo la regola 7 sul mercato?",
		Options:       []string{"Sì", "No"},
	}
}
