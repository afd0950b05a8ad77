package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/metrics"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const rulebookKey = "rulebook:snapshot"

// Client is the subset of the redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RuleStore keeps the ordered rulebook in redis in front of a domain.Store.
// Every rule write through it drops the cached copy before and after the
// write, so a reader that missed during the write cannot keep an old copy
// alive. Redis failures are logged and fall back to the wrapped store.
type RuleStore struct {
	domain.Store
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRuleStore(store domain.Store, client Client, ttl time.Duration, logger *zap.Logger) *RuleStore {
	return &RuleStore{Store: store, client: client, ttl: ttl, logger: logger}
}

func (s *RuleStore) ListRules(ctx context.Context) ([]domain.Rule, error) {
	if rules, ok := s.cached(ctx); ok {
		return rules, nil
	}

	rules, err := s.Store.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.set(ctx, rules); err != nil {
		s.logger.Warn("Failed to cache rulebook", zap.Error(err))
	}
	return rules, nil
}

func (s *RuleStore) UpsertRule(ctx context.Context, number int, text string) (*domain.Rule, error) {
	if err := domain.ValidRuleNumber(number); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	rule, err := s.Store.UpsertRule(ctx, number, text)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return rule, nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, number int) error {
	s.invalidate(ctx)
	if err := s.Store.DeleteRule(ctx, number); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *RuleStore) cached(ctx context.Context) ([]domain.Rule, bool) {
	data, err := s.client.Get(ctx, rulebookKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Failed to read cached rulebook", zap.Error(err))
		}
		metrics.RecordCacheOperation("get_rulebook", false)
		return nil, false
	}

	var rules []domain.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		s.logger.Warn("Discarding malformed cached rulebook", zap.Error(err))
		metrics.RecordCacheOperation("get_rulebook", false)
		return nil, false
	}

	metrics.RecordCacheOperation("get_rulebook", true)
	return rules, true
}

func (s *RuleStore) set(ctx context.Context, rules []domain.Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rulebook: %w", err)
	}
	if err := s.client.Set(ctx, rulebookKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set rulebook in cache: %w", err)
	}
	return nil
}

func (s *RuleStore) invalidate(ctx context.Context) {
	if err := s.client.Del(ctx, rulebookKey).Err(); err != nil {
		s.logger.Error("Failed to invalidate cached rulebook", zap.Error(err))
	}
}
