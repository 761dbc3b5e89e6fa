package handler

import (
	"context"
	"errors"
	"time"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/metrics"
	"github.com/brianly1003/nrelay/internal/strategy"
	"github.com/rs/zerolog/log"
)

// storeTimeout bounds a single repository call.
const storeTimeout = 5 * time.Second

// Validator accepts or rejects a submitted event.
type Validator interface {
	Validate(ctx context.Context, ev *domain.Event) error
}

// EventHandler handles EVENT submissions: validation first, then the
// acceptance strategy for the event's kind.
type EventHandler struct {
	validator  Validator
	strategies strategy.Factory
	metrics    *metrics.Metrics
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(validator Validator, strategies strategy.Factory, m *metrics.Metrics) *EventHandler {
	return &EventHandler{
		validator:  validator,
		strategies: strategies,
		metrics:    m,
	}
}

// Handle validates and accepts ev on behalf of conn.
//
// Temporal rejections are echoed as a NOTICE. Hash, signature and delegation
// failures are logged and dropped without a reply.
func (h *EventHandler) Handle(ctx context.Context, conn Connection, ev *domain.Event) error {
	if err := h.validator.Validate(ctx, ev); err != nil {
		var rejection *domain.RejectionError
		if !errors.As(err, &rejection) {
			return err
		}

		if rejection.Echo {
			log.Info().
				Str("client_id", conn.ID()).
				Str("event_id", ev.ID).
				Str("reason", rejection.Reason).
				Msg("event rejected")
			h.metrics.Event("rejected")
			sendNotice(conn, "Event rejected: "+rejection.Reason)
			return err
		}

		log.Warn().
			Err(rejection.Err).
			Str("client_id", conn.ID()).
			Str("remote_addr", conn.RemoteAddr()).
			Str("event_id", ev.ID).
			Str("pubkey", ev.PubKey).
			Msg("invalid event dropped")
		h.metrics.Event("invalid")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	outcome, err := h.strategies(ev).Execute(ctx, ev)
	if err != nil {
		h.metrics.Event("failed")
		sendOK(conn, ev.ID, false, "error: unable to save event")
		return err
	}

	h.metrics.Event(outcome.String())

	log.Debug().
		Str("client_id", conn.ID()).
		Str("event_id", ev.ID).
		Int("kind", ev.Kind).
		Str("outcome", outcome.String()).
		Msg("event accepted")

	if outcome == strategy.OutcomeDuplicate {
		sendOK(conn, ev.ID, true, "duplicate: already have this event")
	} else {
		sendOK(conn, ev.ID, true, "")
	}

	return nil
}
