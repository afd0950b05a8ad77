// Package memory is a process-local Store used by tests and by the
// storage.driver=memory configuration.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	rules     map[int]domain.Rule
	polls     map[string]domain.PollRecord
	reminders map[int64]domain.Reminder
	nextID    int64
	now       func() time.Time
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		rules:     make(map[int]domain.Rule),
		polls:     make(map[string]domain.PollRecord),
		reminders: make(map[int64]domain.Reminder),
		now:       time.Now,
	}
}

// WithClock replaces the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) UpsertRule(ctx context.Context, number int, text string) (*domain.Rule, error) {
	if err := domain.ValidRuleNumber(number); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rule, ok := s.rules[number]
	if !ok {
		rule = domain.Rule{Number: number, CreatedAt: now}
	}
	rule.Text = text
	rule.UpdatedAt = now
	s.rules[number] = rule
	return &rule, nil
}

func (s *Store) GetRule(ctx context.Context, number int) (*domain.Rule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[number]
	if !ok {
		return nil, false, nil
	}
	return &rule, true, nil
}

func (s *Store) ListRules(ctx context.Context) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Number < rules[j].Number })
	return rules, nil
}

func (s *Store) DeleteRule(ctx context.Context, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rules, number)
	return nil
}

func (s *Store) RuleExists(ctx context.Context, number int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rules[number]
	return ok, nil
}

func (s *Store) NextRuleNumber(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for number := range s.rules {
		if number > max {
			max = number
		}
	}
	return max + 1, nil
}

func (s *Store) UpsertPoll(ctx context.Context, seen domain.PollSeen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	poll, ok := s.polls[seen.PollID]
	if !ok {
		poll = domain.PollRecord{PollID: seen.PollID, CreatedAt: now}
	}
	poll.ChatID = seen.ChatID
	poll.MessageID = seen.MessageID
	poll.CreatorUserID = seen.CreatorUserID
	poll.Question = seen.Question
	poll.Options = append([]string(nil), seen.Options...)
	poll.UpdatedAt = now
	s.polls[seen.PollID] = poll
	return nil
}

func (s *Store) UpdateTally(ctx context.Context, pollID string, results map[string]int, isClosed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	poll.Results = copyResults(results)
	poll.IsClosed = isClosed
	poll.UpdatedAt = s.now()
	s.polls[pollID] = poll
	return nil
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	poll, ok := s.polls[pollID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clonePoll(poll)
	return &out, nil
}

func (s *Store) SetPollHints(ctx context.Context, pollID string, hints domain.Hints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	poll.Hints = domain.Hints{}.Merge(hints)
	poll.UpdatedAt = s.now()
	s.polls[pollID] = poll
	return nil
}

func (s *Store) MarkPollApplied(ctx context.Context, pollID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	if poll.AppliedAt == nil {
		applied := at
		poll.AppliedAt = &applied
		poll.UpdatedAt = s.now()
		s.polls[pollID] = poll
	}
	return nil
}

func (s *Store) ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var polls []domain.PollRecord
	for _, poll := range s.polls {
		if poll.ChatID != chatID {
			continue
		}
		if filter == domain.PollFilterOpen && poll.IsClosed {
			continue
		}
		if filter == domain.PollFilterClosed && !poll.IsClosed {
			continue
		}
		polls = append(polls, clonePoll(poll))
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].CreatedAt.After(polls[j].CreatedAt) })
	return polls, nil
}

func (s *Store) CreateReminder(ctx context.Context, reminder *domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	reminder.ID = s.nextID
	reminder.CreatedAt = s.now()
	s.reminders[reminder.ID] = *reminder
	return nil
}

func (s *Store) ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reminders []domain.Reminder
	for _, r := range s.reminders {
		if r.ChatID == chatID {
			reminders = append(reminders, r)
		}
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].ID < reminders[j].ID })
	return reminders, nil
}

func (s *Store) GetReminder(ctx context.Context, chatID, id int64) (*domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reminders[id]
	if !ok || r.ChatID != chatID {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *Store) DeleteReminder(ctx context.Context, chatID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[id]
	if !ok || r.ChatID != chatID {
		return domain.ErrNotFound
	}
	delete(s.reminders, id)
	return nil
}

func copyResults(results map[string]int) map[string]int {
	if results == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

func clonePoll(p domain.PollRecord) domain.PollRecord {
	p.Options = append([]string(nil), p.Options...)
	if p.Results != nil {
		p.Results = copyResults(p.Results)
	}
	p.Hints = domain.Hints{}.Merge(p.Hints)
	if p.AppliedAt != nil {
		at := *p.AppliedAt
		p.AppliedAt = &at
	}
	return p
}
