package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes envelopes on "<prefix>.<event type>" pub/sub channels.
type RedisPublisher struct {
	client RedisClient
	prefix string
	logger *zap.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(client RedisClient, prefix string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

func (p *RedisPublisher) PublishOutcome(ctx context.Context, event OutcomeEvent) error {
	if err := p.publish(ctx, TypeOutcome, event); err != nil {
		return err
	}
	p.logger.Info("Published outcome event",
		zap.String("correlation_id", event.CorrelationID),
		zap.Int64("chat_id", event.ChatID),
		zap.String("failure", event.Failure),
	)
	return nil
}

func (p *RedisPublisher) PublishRuleChanged(ctx context.Context, event RuleChangedEvent) error {
	if err := p.publish(ctx, TypeRuleChanged, event); err != nil {
		return err
	}
	p.logger.Info("Published rule changed event",
		zap.String("action", string(event.Action)),
		zap.Int("rule_number", event.RuleNumber),
	)
	return nil
}

func (p *RedisPublisher) publish(ctx context.Context, eventType string, data interface{}) error {
	envelope, err := NewEnvelope(eventType, data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel(eventType), body).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

func (p *RedisPublisher) channel(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
