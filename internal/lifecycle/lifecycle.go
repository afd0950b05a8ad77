// Package lifecycle is the only writer of poll records. It moves a poll from
// created through tallying and closed to applied.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/metrics"
	"go.uber.org/zap"
)

type Tracker struct {
	polls  domain.PollRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(polls domain.PollRepository, logger *zap.Logger) *Tracker {
	return &Tracker{polls: polls, logger: logger, now: time.Now}
}

// OnPollSeen records or refreshes poll metadata. Redelivery is harmless:
// results, closure and hints of an existing record are preserved.
func (t *Tracker) OnPollSeen(ctx context.Context, seen domain.PollSeen) error {
	if err := validateSeen(seen); err != nil {
		metrics.RecordPollEvent("seen", err)
		return err
	}

	err := t.polls.UpsertPoll(ctx, seen)
	metrics.RecordPollEvent("seen", err)
	if err != nil {
		return fmt.Errorf("record poll %s: %w", seen.PollID, err)
	}

	t.logger.Debug("Poll seen",
		zap.String("poll_id", seen.PollID),
		zap.Int64("chat_id", seen.ChatID),
		zap.Int("options", len(seen.Options)),
	)
	return nil
}

// OnTallyUpdate replaces the tally wholesale. A tally for a poll that was
// never seen returns ErrPollNotFound and creates nothing.
func (t *Tracker) OnTallyUpdate(ctx context.Context, pollID string, results map[string]int, isClosed bool) error {
	err := t.polls.UpdateTally(ctx, pollID, results, isClosed)
	metrics.RecordPollEvent("tally", err)
	if errors.Is(err, domain.ErrNotFound) {
		t.logger.Warn("Tally for unknown poll", zap.String("poll_id", pollID))
		return fmt.Errorf("update tally of %s: %w", pollID, domain.ErrPollNotFound)
	}
	if err != nil {
		return fmt.Errorf("update tally of %s: %w", pollID, err)
	}

	t.logger.Debug("Poll tally updated",
		zap.String("poll_id", pollID),
		zap.Bool("closed", isClosed),
	)
	return nil
}

// SeedHints stores rule number and content hints for polls created through
// the manual entry path.
func (t *Tracker) SeedHints(ctx context.Context, pollID string, hints domain.Hints) error {
	if hints.RuleNumber != nil {
		if err := domain.ValidRuleNumber(*hints.RuleNumber); err != nil {
			return err
		}
	}
	err := t.polls.SetPollHints(ctx, pollID, hints)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("seed hints of %s: %w", pollID, domain.ErrPollNotFound)
	}
	if err != nil {
		return fmt.Errorf("seed hints of %s: %w", pollID, err)
	}
	return nil
}

// Register persists a poll reconstructed from its original message: the
// metadata first, then the tally when the snapshot carries one.
func (t *Tracker) Register(ctx context.Context, snapshot domain.PollSnapshot) error {
	if err := t.OnPollSeen(ctx, snapshot.PollSeen); err != nil {
		return err
	}
	if snapshot.Results == nil && !snapshot.IsClosed {
		return nil
	}
	return t.OnTallyUpdate(ctx, snapshot.PollID, snapshot.Results, snapshot.IsClosed)
}

// MarkApplied moves the poll to applied. Applying again keeps the first
// timestamp.
func (t *Tracker) MarkApplied(ctx context.Context, pollID string) error {
	err := t.polls.MarkPollApplied(ctx, pollID, t.now())
	metrics.RecordPollEvent("applied", err)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark %s applied: %w", pollID, domain.ErrPollNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark %s applied: %w", pollID, err)
	}
	return nil
}

func (t *Tracker) Get(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	poll, err := t.polls.GetPoll(ctx, pollID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll %s: %w", pollID, err)
	}
	return poll, nil
}

func (t *Tracker) List(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	switch filter {
	case domain.PollFilterAll, domain.PollFilterOpen, domain.PollFilterClosed:
	default:
		return nil, fmt.Errorf("%w: unknown poll filter %q", domain.ErrInvalidInput, filter)
	}
	polls, err := t.polls.ListPolls(ctx, chatID, filter)
	if err != nil {
		return nil, fmt.Errorf("list polls of chat %d: %w", chatID, err)
	}
	return polls, nil
}

func validateSeen(seen domain.PollSeen) error {
	if strings.TrimSpace(seen.PollID) == "" {
		return fmt.Errorf("%w: poll id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(seen.Question) == "" {
		return fmt.Errorf("%w: poll question is required", domain.ErrInvalidInput)
	}
	return nil
}
