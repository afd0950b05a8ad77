// Package resolution turns an administrator's apply request into exactly one
// rulebook mutation, or a classified failure with no mutation at all.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/metrics"
	"github.com/behzadon/rulebook/internal/oracle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PollSource resolves poll records and persists reconstructed ones.
type PollSource interface {
	// Get returns domain.ErrPollNotFound for an unknown poll.
	Get(ctx context.Context, pollID string) (*domain.PollRecord, error)
	Register(ctx context.Context, snapshot domain.PollSnapshot) error
}

type Request struct {
	PollID string
	// Snapshot rebuilds the poll when PollID is not on record.
	Snapshot *domain.PollSnapshot
	// Inline applies an administrator-typed poll with no stored record.
	Inline *domain.InlinePoll
	// Hints override the record's stored hints for this call only.
	Hints            domain.Hints
	RequesterIsAdmin bool
}

// RulebookReader lists the rulebook the oracle is prompted with.
type RulebookReader interface {
	ListRules(ctx context.Context) ([]domain.Rule, error)
}

type Engine struct {
	rules    domain.RuleRepository
	snapshot RulebookReader
	polls    PollSource
	oracle   oracle.Oracle
	logger   *zap.Logger
	group    *singleflight.Group
	// sharedTimeout bounds coalesced work, which outlives any single caller.
	sharedTimeout time.Duration
}

type Option func(*Engine)

// WithCoalescing makes concurrent applies of the same poll and hints share a
// single oracle call and mutation. The shared work is detached from the
// callers' cancellation and bounded by timeout instead; zero means unbounded.
func WithCoalescing(timeout time.Duration) Option {
	return func(e *Engine) {
		e.group = &singleflight.Group{}
		e.sharedTimeout = timeout
	}
}

// WithSnapshotSource reads the rulebook snapshot from src instead of the rule
// repository, typically the store underneath a cache.
func WithSnapshotSource(src RulebookReader) Option {
	return func(e *Engine) {
		e.snapshot = src
	}
}

func NewEngine(rules domain.RuleRepository, polls PollSource, decider oracle.Oracle, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		rules:    rules,
		snapshot: rules,
		polls:    polls,
		oracle:   decider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// subject is the poll an apply call decides on.
type subject struct {
	pollID        string
	question      string
	options       []string
	winningOption string
	tallySummary  string
	hints         domain.Hints
}

func (e *Engine) Apply(ctx context.Context, req Request) (outcome domain.Outcome, err error) {
	if !req.RequesterIsAdmin {
		metrics.RecordApply("", string(domain.FailureUnauthorized))
		return domain.Outcome{}, domain.ErrUnauthorized
	}

	ctx, span := otel.Tracer("rulebook/resolution").Start(ctx, "resolution.Apply")
	pollID := req.PollID
	if pollID == "" && req.Snapshot != nil {
		pollID = req.Snapshot.PollID
	}
	defer func() {
		e.finish(span, pollID, outcome, err)
		span.End()
	}()

	subj, err := e.resolve(ctx, req)
	if err != nil {
		return domain.Outcome{}, err
	}
	pollID = subj.pollID
	span.SetAttributes(attribute.String("poll.id", subj.pollID))

	if e.group == nil || subj.pollID == "" {
		return e.decideAndExecute(ctx, subj)
	}
	return e.coalesced(ctx, subj)
}

// coalesced shares one decide-and-execute among concurrent callers with the
// same key. Each caller still gives up on its own context.
func (e *Engine) coalesced(ctx context.Context, subj subject) (domain.Outcome, error) {
	ch := e.group.DoChan(coalesceKey(subj), func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		if e.sharedTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, e.sharedTimeout)
			defer cancel()
		}
		return e.decideAndExecute(shared, subj)
	})

	select {
	case <-ctx.Done():
		return domain.Outcome{}, fmt.Errorf("wait for coalesced apply: %w: %v", domain.ErrTimedOut, ctx.Err())
	case res := <-ch:
		if res.Shared {
			e.logger.Debug("Coalesced concurrent apply", zap.String("poll_id", subj.pollID))
		}
		if res.Err != nil {
			return domain.Outcome{}, res.Err
		}
		return res.Val.(domain.Outcome), nil
	}
}

// coalesceKey separates calls whose merged hints could back-fill differently.
func coalesceKey(subj subject) string {
	number := ""
	if subj.hints.RuleNumber != nil {
		number = strconv.Itoa(*subj.hints.RuleNumber)
	}
	return subj.pollID + "|" + number + "|" + subj.hints.Content
}

func (e *Engine) finish(span trace.Span, pollID string, outcome domain.Outcome, err error) {
	if err != nil {
		kind := domain.Classify(err)
		metrics.RecordApply("", string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		e.logger.Info("Apply failed",
			zap.String("poll_id", pollID),
			zap.String("failure", string(kind)),
			zap.Error(err),
		)
		return
	}

	result := "applied"
	if outcome.Kind == domain.OutcomeNoOpRemoved {
		result = "noop"
	}
	metrics.RecordApply(string(outcome.Action), result)
	span.SetAttributes(
		attribute.String("rule.action", string(outcome.Action)),
		attribute.Int("rule.number", outcome.RuleNumber),
		attribute.String("apply.result", result),
	)
	e.logger.Info("Apply succeeded",
		zap.String("poll_id", pollID),
		zap.String("action", string(outcome.Action)),
		zap.Int("rule_number", outcome.RuleNumber),
		zap.String("label", outcome.Label()),
	)
}

func (e *Engine) resolve(ctx context.Context, req Request) (subject, error) {
	if req.Inline != nil {
		return inlineSubject(*req.Inline, req.Hints)
	}

	pollID := req.PollID
	if pollID == "" && req.Snapshot != nil {
		pollID = req.Snapshot.PollID
	}
	if pollID == "" {
		return subject{}, domain.ErrPollNotFound
	}

	poll, err := e.polls.Get(ctx, pollID)
	if errors.Is(err, domain.ErrPollNotFound) && req.Snapshot != nil {
		snapshot := *req.Snapshot
		snapshot.PollID = pollID
		e.logger.Info("Poll not on record, registering snapshot", zap.String("poll_id", pollID))
		if err := e.polls.Register(ctx, snapshot); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return subject{}, fmt.Errorf("%w: unusable snapshot for %s: %v", domain.ErrPollNotFound, pollID, err)
			}
			return subject{}, fmt.Errorf("register poll snapshot: %w", err)
		}
		poll, err = e.polls.Get(ctx, pollID)
	}
	if err != nil {
		return subject{}, fmt.Errorf("resolve poll %s: %w", pollID, err)
	}

	tally := poll.Tally()
	subj := subject{
		pollID:       poll.PollID,
		question:     poll.Question,
		options:      poll.Options,
		tallySummary: domain.TallySummary(tally),
		hints:        poll.Hints.Merge(req.Hints),
	}
	if len(tally) > 0 {
		subj.winningOption = tally[0].Option
	}
	return subj, nil
}

func inlineSubject(inline domain.InlinePoll, hints domain.Hints) (subject, error) {
	if strings.TrimSpace(inline.Question) == "" || strings.TrimSpace(inline.WinningOption) == "" {
		return subject{}, fmt.Errorf("%w: inline poll needs a question and a winning option", domain.ErrInvalidInput)
	}
	return subject{
		question:      inline.Question,
		options:       inline.Options,
		winningOption: inline.WinningOption,
		hints:         domain.Hints{}.Merge(hints),
	}, nil
}

func (e *Engine) decideAndExecute(ctx context.Context, subj subject) (domain.Outcome, error) {
	rules, err := e.snapshot.ListRules(ctx)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("load rulebook: %w", err)
	}

	directives, err := e.oracle.Decide(ctx, oracle.Request{
		Question:      subj.question,
		Options:       subj.options,
		RulesSnapshot: Snapshot(rules),
		WinningOption: subj.winningOption,
		TallySummary:  subj.tallySummary,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Outcome{}, fmt.Errorf("consult oracle: %w: %v", domain.ErrTimedOut, err)
		}
		e.logger.Warn("Oracle failed, treating as no directives",
			zap.String("poll_id", subj.pollID),
			zap.Error(err),
		)
		directives = nil
	}

	directive, action, ok := oracle.First(directives)
	if !ok {
		return domain.Outcome{}, domain.ErrNoActionDetermined
	}

	return e.execute(ctx, backfill(directive, action, subj.hints))
}

// backfill fills rule number and content the directive left out from hints.
// Values the directive carries are never replaced.
func backfill(d oracle.Directive, action domain.Action, hints domain.Hints) domain.Intent {
	intent := domain.Intent{Action: action}

	switch {
	case d.Arguments.RuleNumber != nil:
		n := *d.Arguments.RuleNumber
		intent.RuleNumber = &n
	case hints.RuleNumber != nil:
		n := *hints.RuleNumber
		intent.RuleNumber = &n
	}

	if d.Arguments.Content != nil && strings.TrimSpace(*d.Arguments.Content) != "" {
		intent.Content = strings.TrimSpace(*d.Arguments.Content)
	} else {
		intent.Content = strings.TrimSpace(hints.Content)
	}
	return intent
}

func (e *Engine) execute(ctx context.Context, intent domain.Intent) (domain.Outcome, error) {
	if intent.Action == domain.ActionRemove {
		return e.remove(ctx, intent)
	}

	if intent.RuleNumber == nil && intent.Action == domain.ActionUpdate {
		return domain.Outcome{}, domain.ErrMissingRuleNumber
	}
	if intent.Content == "" {
		return domain.Outcome{}, domain.ErrEmptyContent
	}

	var number int
	if intent.RuleNumber != nil {
		number = *intent.RuleNumber
		if err := domain.ValidRuleNumber(number); err != nil {
			return domain.Outcome{}, err
		}
	} else {
		next, err := e.rules.NextRuleNumber(ctx)
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("allocate rule number: %w", err)
		}
		number = next
	}

	existed, err := e.rules.RuleExists(ctx, number)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("check rule %d: %w", number, err)
	}
	if _, err := e.rules.UpsertRule(ctx, number, intent.Content); err != nil {
		return domain.Outcome{}, fmt.Errorf("write rule %d: %w", number, err)
	}
	return domain.Applied(intent.Action, number, intent.Content, existed), nil
}

func (e *Engine) remove(ctx context.Context, intent domain.Intent) (domain.Outcome, error) {
	if intent.RuleNumber == nil {
		return domain.Outcome{}, domain.ErrMissingRuleNumber
	}
	number := *intent.RuleNumber
	if err := domain.ValidRuleNumber(number); err != nil {
		return domain.Outcome{}, err
	}

	exists, err := e.rules.RuleExists(ctx, number)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("check rule %d: %w", number, err)
	}
	if !exists {
		return domain.NoOpRemoved(number), nil
	}
	if err := e.rules.DeleteRule(ctx, number); err != nil {
		return domain.Outcome{}, fmt.Errorf("delete rule %d: %w", number, err)
	}
	return domain.Applied(domain.ActionRemove, number, "", true), nil
}

// Snapshot renders the rulebook as "N. text" lines, ascending by number.
func Snapshot(rules []domain.Rule) string {
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		lines = append(lines, strconv.Itoa(r.Number)+". "+r.Text)
	}
	return strings.Join(lines, "\n")
}
