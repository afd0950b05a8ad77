package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/storage/memory"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func TestRuleStore_ListRules(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name       string
		setupMocks func(*MockRedis, *memory.Store)
		expected   []int
	}{
		{
			name: "cache hit skips the store",
			setupMocks: func(r *MockRedis, s *memory.Store) {
				data, _ := json.Marshal([]domain.Rule{{Number: 4, Text: "dal cache"}})
				r.On("Get", mock.Anything, rulebookKey).Return(redis.NewStringResult(string(data), nil))
			},
			expected: []int{4},
		},
		{
			name: "cache miss loads and stores",
			setupMocks: func(r *MockRedis, s *memory.Store) {
				_, _ = s.UpsertRule(ctx, 2, "due")
				_, _ = s.UpsertRule(ctx, 1, "uno")
				r.On("Get", mock.Anything, rulebookKey).Return(redis.NewStringResult("", redis.Nil))
				r.On("Set", mock.Anything, rulebookKey, mock.Anything, time.Minute).Return(redis.NewStatusResult("OK", nil))
			},
			expected: []int{1, 2},
		},
		{
			name: "redis down falls back to the store",
			setupMocks: func(r *MockRedis, s *memory.Store) {
				_, _ = s.UpsertRule(ctx, 3, "tre")
				r.On("Get", mock.Anything, rulebookKey).Return(redis.NewStringResult("", errors.New("connection refused")))
				r.On("Set", mock.Anything, rulebookKey, mock.Anything, time.Minute).Return(redis.NewStatusResult("", errors.New("connection refused")))
			},
			expected: []int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRedis := new(MockRedis)
			store := memory.NewStore()
			tt.setupMocks(mockRedis, store)

			cached := NewRuleStore(store, mockRedis, time.Minute, logger)
			rules, err := cached.ListRules(ctx)
			require.NoError(t, err)

			numbers := make([]int, 0, len(rules))
			for _, r := range rules {
				numbers = append(numbers, r.Number)
			}
			assert.Equal(t, tt.expected, numbers)
			mockRedis.AssertExpectations(t)
		})
	}
}

func TestRuleStore_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	mockRedis := new(MockRedis)
	mockRedis.On("Del", mock.Anything, []string{rulebookKey}).Return(redis.NewIntResult(1, nil)).Times(4)

	cached := NewRuleStore(memory.NewStore(), mockRedis, time.Minute, logger)

	_, err := cached.UpsertRule(ctx, 7, "mercato")
	require.NoError(t, err)
	require.NoError(t, cached.DeleteRule(ctx, 7))

	exists, err := cached.RuleExists(ctx, 7)
	require.NoError(t, err)
	assert.False(t, exists)
	mockRedis.AssertExpectations(t)
}

func TestRuleStore_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	mockRedis := new(MockRedis)

	cached := NewRuleStore(memory.NewStore(), mockRedis, time.Minute, logger)
	_, err := cached.UpsertRule(ctx, -1, "invalid")
	assert.ErrorIs(t, err, domain.ErrInvalidRuleNumber)
	mockRedis.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
}

type recordingStore struct {
	*memory.Store
	calls *[]string
	// during runs inside the write, standing in for a concurrent reader.
	during func()
}

func (s recordingStore) UpsertRule(ctx context.Context, number int, text string) (*domain.Rule, error) {
	*s.calls = append(*s.calls, "write")
	if s.during != nil {
		s.during()
	}
	return s.Store.UpsertRule(ctx, number, text)
}

func (s recordingStore) DeleteRule(ctx context.Context, number int) error {
	*s.calls = append(*s.calls, "write")
	return s.Store.DeleteRule(ctx, number)
}

func TestRuleStore_InvalidatesAroundWrites(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name  string
		write func(*RuleStore) error
	}{
		{
			name: "upsert",
			write: func(s *RuleStore) error {
				_, err := s.UpsertRule(ctx, 7, "mercato")
				return err
			},
		},
		{
			name: "delete",
			write: func(s *RuleStore) error {
				return s.DeleteRule(ctx, 7)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			mockRedis := new(MockRedis)
			mockRedis.On("Del", mock.Anything, []string{rulebookKey}).
				Run(func(mock.Arguments) { calls = append(calls, "del") }).
				Return(redis.NewIntResult(1, nil))

			inner := memory.NewStore()
			_, err := inner.UpsertRule(ctx, 7, "vecchia")
			require.NoError(t, err)

			cached := NewRuleStore(recordingStore{Store: inner, calls: &calls}, mockRedis, time.Minute, logger)
			require.NoError(t, tt.write(cached))
			assert.Equal(t, []string{"del", "write", "del"}, calls)
		})
	}
}

func TestRuleStore_StaleFillDroppedAfterWrite(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	mockRedis := new(MockRedis)

	inner := memory.NewStore()
	_, err := inner.UpsertRule(ctx, 7, "vecchia")
	require.NoError(t, err)
	stale, _ := json.Marshal([]domain.Rule{{Number: 7, Text: "vecchia"}})

	var cachedValue string
	mockRedis.On("Del", mock.Anything, []string{rulebookKey}).
		Run(func(mock.Arguments) { cachedValue = "" }).
		Return(redis.NewIntResult(1, nil))
	store := recordingStore{
		Store:  inner,
		calls:  new([]string),
		during: func() { cachedValue = string(stale) },
	}
	cached := NewRuleStore(store, mockRedis, time.Minute, logger)

	_, err = cached.UpsertRule(ctx, 7, "nuova")
	require.NoError(t, err)
	assert.Empty(t, cachedValue)
	mockRedis.AssertNumberOfCalls(t, "Del", 2)
}
