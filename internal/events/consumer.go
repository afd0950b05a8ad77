package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/behzadon/rulebook/internal/config"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes inbound transport events. correlationID is the
// envelope id and is echoed back on the outcome event.
type Handler interface {
	HandlePollSeen(ctx context.Context, seen domain.PollSeen) error
	HandleTally(ctx context.Context, tally TallyEvent) error
	HandleApplyRequested(ctx context.Context, correlationID string, req ApplyRequestedEvent) error
}

// Dispatch decodes one envelope and routes it to h. Undecodable messages and
// unknown types come back as domain.ErrInvalidInput.
func Dispatch(ctx context.Context, h Handler, body []byte) error {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: unmarshal event: %v", domain.ErrInvalidInput, err)
	}

	switch envelope.Type {
	case TypePollSeen:
		var seen domain.PollSeen
		if err := json.Unmarshal(envelope.Data, &seen); err != nil {
			return fmt.Errorf("%w: unmarshal poll: %v", domain.ErrInvalidInput, err)
		}
		return h.HandlePollSeen(ctx, seen)

	case TypePollTally:
		var tally TallyEvent
		if err := json.Unmarshal(envelope.Data, &tally); err != nil {
			return fmt.Errorf("%w: unmarshal tally: %v", domain.ErrInvalidInput, err)
		}
		return h.HandleTally(ctx, tally)

	case TypeApplyRequested:
		var req ApplyRequestedEvent
		if err := json.Unmarshal(envelope.Data, &req); err != nil {
			return fmt.Errorf("%w: unmarshal apply request: %v", domain.ErrInvalidInput, err)
		}
		return h.HandleApplyRequested(ctx, envelope.ID, req)

	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, envelope.Type)
	}
}

type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler Handler
	logger  *zap.Logger
	queue   string
}

// NewRabbitMQConsumer declares the durable queue and binds it to the poll.*
// routing keys of the exchange.
func NewRabbitMQConsumer(cfg config.RabbitMQConfig, handler Handler, logger *zap.Logger) (*RabbitMQConsumer, error) {
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = closeAll(ch, conn, logger)
		return nil, fmt.Errorf("set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = closeAll(ch, conn, logger)
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, "poll.*", cfg.Exchange, false, nil); err != nil {
		_ = closeAll(ch, conn, logger)
		return nil, fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		logger:  logger,
		queue:   cfg.Queue,
	}, nil
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Error("Consumer channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *RabbitMQConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	err := Dispatch(ctx, c.handler, msg.Body)
	metrics.RecordEventConsumed(msg.RoutingKey, err)

	if err == nil {
		if err := msg.Ack(false); err != nil {
			c.logger.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	requeue := Requeue(err, msg.Redelivered)
	c.logger.Error("Failed to handle message",
		zap.Error(err),
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
		zap.Bool("requeue", requeue),
	)
	if requeue {
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}

// Requeue reports whether a failed delivery goes back on the queue. Only
// retryable failures are requeued, and only once.
func Requeue(err error, redelivered bool) bool {
	if err == nil || redelivered {
		return false
	}
	return domain.Classify(err).Retryable()
}

func (c *RabbitMQConsumer) Close() error {
	return closeAll(c.channel, c.conn, c.logger)
}
