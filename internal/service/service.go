package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/admin"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/events"
	"github.com/behzadon/rulebook/internal/lifecycle"
	"github.com/behzadon/rulebook/internal/notification"
	"github.com/behzadon/rulebook/internal/resolution"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxReminderLength = 1000

type Service interface {
	OnPollSeen(ctx context.Context, seen domain.PollSeen) error
	OnTallyUpdate(ctx context.Context, pollID string, update domain.TallyUpdate) error
	SeedHints(ctx context.Context, pollID string, hints domain.Hints) error
	GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error)
	ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error)

	ApplyRequested(ctx context.Context, cmd ApplyCommand) (domain.Outcome, error)

	ListRules(ctx context.Context) ([]domain.Rule, error)
	GetRule(ctx context.Context, number int) (*domain.Rule, error)

	AddReminder(ctx context.Context, chatID int64, req *domain.CreateReminderRequest) (*domain.Reminder, error)
	ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error)
	DeleteReminder(ctx context.Context, chatID, id, userID int64) error

	Health(ctx context.Context) (*Health, error)
}

// Applier is the resolution engine as the service sees it.
type Applier interface {
	Apply(ctx context.Context, req resolution.Request) (domain.Outcome, error)
}

// ApplyCommand is one administrator request to apply a poll, whichever
// chat surface it came from. The poll is either Inline or PollID, with
// Snapshot as the fallback for a poll that was never recorded.
type ApplyCommand struct {
	CorrelationID string
	ChatID        int64
	UserID        int64
	PollID        string
	Snapshot      *domain.PollSnapshot
	Inline        *domain.InlinePoll
	Hints         domain.Hints
}

func (c ApplyCommand) pollID() string {
	if c.PollID != "" {
		return c.PollID
	}
	if c.Snapshot != nil {
		return c.Snapshot.PollID
	}
	return ""
}

type Health struct {
	Status string `json:"status"`
	Rules  int    `json:"rules"`
}

type service struct {
	store     domain.Store
	tracker   *lifecycle.Tracker
	engine    Applier
	admins    admin.Checker
	publisher events.Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewService wires the pipeline. timeout bounds each apply call; zero
// leaves it to the caller's context.
func NewService(
	store domain.Store,
	tracker *lifecycle.Tracker,
	engine Applier,
	admins admin.Checker,
	publisher events.Publisher,
	timeout time.Duration,
	logger *zap.Logger,
) Service {
	return &service{
		store:     store,
		tracker:   tracker,
		engine:    engine,
		admins:    admins,
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
	}
}

func (s *service) OnPollSeen(ctx context.Context, seen domain.PollSeen) error {
	return s.tracker.OnPollSeen(ctx, seen)
}

func (s *service) OnTallyUpdate(ctx context.Context, pollID string, update domain.TallyUpdate) error {
	return s.tracker.OnTallyUpdate(ctx, pollID, update.Results, update.IsClosed)
}

func (s *service) SeedHints(ctx context.Context, pollID string, hints domain.Hints) error {
	return s.tracker.SeedHints(ctx, pollID, hints)
}

func (s *service) GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	return s.tracker.Get(ctx, pollID)
}

func (s *service) ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	return s.tracker.List(ctx, chatID, filter)
}

func (s *service) ApplyRequested(ctx context.Context, cmd ApplyCommand) (domain.Outcome, error) {
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	logger := s.logger.With(
		zap.String("correlation_id", cmd.CorrelationID),
		zap.Int64("chat_id", cmd.ChatID),
		zap.Int64("user_id", cmd.UserID),
	)

	isAdmin, err := s.admins.IsAdmin(ctx, cmd.ChatID, cmd.UserID)
	if err != nil {
		logger.Warn("Admin lookup failed, treating requester as non-admin", zap.Error(err))
		isAdmin = false
	}

	applyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	outcome, err := s.engine.Apply(applyCtx, resolution.Request{
		PollID:           cmd.PollID,
		Snapshot:         cmd.Snapshot,
		Inline:           cmd.Inline,
		Hints:            cmd.Hints,
		RequesterIsAdmin: isAdmin,
	})

	pollID := cmd.pollID()
	if err == nil && cmd.Inline == nil && pollID != "" {
		if markErr := s.tracker.MarkApplied(ctx, pollID); markErr != nil {
			logger.Error("Failed to mark poll applied", zap.String("poll_id", pollID), zap.Error(markErr))
		}
	}

	s.publishOutcome(ctx, logger, cmd, outcome, err)
	return outcome, err
}

func (s *service) publishOutcome(ctx context.Context, logger *zap.Logger, cmd ApplyCommand, outcome domain.Outcome, applyErr error) {
	event := events.OutcomeEvent{
		CorrelationID: cmd.CorrelationID,
		ChatID:        cmd.ChatID,
		UserID:        cmd.UserID,
		PollID:        cmd.pollID(),
		Reply:         notification.Render(outcome, applyErr),
	}
	if applyErr != nil {
		kind := domain.Classify(applyErr)
		event.Failure = string(kind)
		event.Retryable = kind.Retryable()
	} else {
		event.Outcome = &outcome
	}

	if err := s.publisher.PublishOutcome(ctx, event); err != nil {
		logger.Error("Failed to publish outcome event", zap.Error(err))
	}

	if applyErr != nil || outcome.Kind != domain.OutcomeApplied {
		return
	}
	changed := events.RuleChangedEvent{
		Action:     outcome.Action,
		RuleNumber: outcome.RuleNumber,
		Content:    outcome.Content,
		ChatID:     cmd.ChatID,
		PollID:     event.PollID,
	}
	if err := s.publisher.PublishRuleChanged(ctx, changed); err != nil {
		logger.Error("Failed to publish rule changed event", zap.Error(err))
	}
}

func (s *service) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.store.ListRules(ctx)
}

func (s *service) GetRule(ctx context.Context, number int) (*domain.Rule, error) {
	if err := domain.ValidRuleNumber(number); err != nil {
		return nil, err
	}
	rule, ok, err := s.store.GetRule(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get rule %d: %w", number, err)
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rule, nil
}

func (s *service) AddReminder(ctx context.Context, chatID int64, req *domain.CreateReminderRequest) (*domain.Reminder, error) {
	if req == nil {
		return nil, domain.ErrInvalidInput
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || len([]rune(text)) > maxReminderLength {
		return nil, fmt.Errorf("%w: reminder text must be 1-%d characters", domain.ErrInvalidInput, maxReminderLength)
	}

	reminder := &domain.Reminder{
		ChatID: chatID,
		UserID: req.UserID,
		Text:   text,
	}
	if err := s.store.CreateReminder(ctx, reminder); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return reminder, nil
}

func (s *service) ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error) {
	return s.store.ListReminders(ctx, chatID)
}

// DeleteReminder removes a reminder when userID wrote it or administers
// the chat.
func (s *service) DeleteReminder(ctx context.Context, chatID, id, userID int64) error {
	reminder, err := s.store.GetReminder(ctx, chatID, id)
	if err != nil {
		return err
	}

	if reminder.UserID != userID {
		isAdmin, err := s.admins.IsAdmin(ctx, chatID, userID)
		if err != nil {
			s.logger.Warn("Admin lookup failed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		}
		if !isAdmin {
			return domain.ErrForbidden
		}
	}

	if err := s.store.DeleteReminder(ctx, chatID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	return nil
}

func (s *service) Health(ctx context.Context) (*Health, error) {
	if err := s.store.Ping(ctx); err != nil {
		return &Health{Status: "unavailable"}, fmt.Errorf("ping store: %w", err)
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return &Health{Status: "degraded"}, fmt.Errorf("count rules: %w", err)
	}
	return &Health{Status: "ok", Rules: len(rules)}, nil
}
