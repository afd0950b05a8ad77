package service

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/events"
)

type eventHandler struct {
	svc Service
}

// NewEventHandler feeds transport events from the queue into svc.
func NewEventHandler(svc Service) events.Handler {
	return &eventHandler{svc: svc}
}

func (h *eventHandler) HandlePollSeen(ctx context.Context, seen domain.PollSeen) error {
	return h.svc.OnPollSeen(ctx, seen)
}

func (h *eventHandler) HandleTally(ctx context.Context, tally events.TallyEvent) error {
	return h.svc.OnTallyUpdate(ctx, tally.PollID, domain.TallyUpdate{
		Results:  tally.Results,
		IsClosed: tally.IsClosed,
	})
}

func (h *eventHandler) HandleApplyRequested(ctx context.Context, correlationID string, req events.ApplyRequestedEvent) error {
	_, err := h.svc.ApplyRequested(ctx, ApplyCommand{
		CorrelationID: correlationID,
		ChatID:        req.ChatID,
		UserID:        req.UserID,
		PollID:        req.PollID,
		Snapshot:      req.Snapshot,
		Inline:        req.Inline,
		Hints:         req.Hints,
	})
	return err
}
