package handler

import (
	"context"
	"fmt"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/message"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
)

// EventFinder is the read side of the event store.
type EventFinder interface {
	Find(ctx context.Context, filters nostr.Filters) ([]*domain.Event, error)
}

// SubscriptionHandler handles REQ and CLOSE messages.
type SubscriptionHandler struct {
	finder EventFinder
	limits func() config.SubscriptionLimits
}

// NewSubscriptionHandler creates a new SubscriptionHandler. limits is read on
// every REQ so reloaded settings apply to the next subscription.
func NewSubscriptionHandler(finder EventFinder, limits func() config.SubscriptionLimits) *SubscriptionHandler {
	return &SubscriptionHandler{finder: finder, limits: limits}
}

// Subscribe opens or replaces subscription id, replays stored matches and
// finishes the replay with EOSE.
func (h *SubscriptionHandler) Subscribe(ctx context.Context, conn Connection, id string, filters nostr.Filters) error {
	limits := h.limits()

	if limits.MaxFilters > 0 && len(filters) > limits.MaxFilters {
		sendNotice(conn, fmt.Sprintf("invalid: too many filters (max %d)", limits.MaxFilters))
		return fmt.Errorf("%w: %d filters", domain.ErrInvalidMessage, len(filters))
	}

	if limits.MaxSubscriptions > 0 && !conn.HasSubscription(id) && conn.SubscriptionCount() >= limits.MaxSubscriptions {
		sendNotice(conn, fmt.Sprintf("rate-limited: too many subscriptions (max %d)", limits.MaxSubscriptions))
		return fmt.Errorf("%w: subscription limit reached", domain.ErrInvalidMessage)
	}

	// Subscribing before the replay means an event stored meanwhile is not
	// missed. It may be delivered twice.
	conn.Subscribe(id, filters)

	log.Debug().
		Str("client_id", conn.ID()).
		Str("subscription_id", id).
		Int("filters", len(filters)).
		Msg("subscription opened")

	findCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	events, err := h.finder.Find(findCtx, filters)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("subscription_id", id).Msg("unable to query events")
	}

	// Replay waits for room in the send buffer so a large history is
	// throttled by the reader instead of dropped.
	for _, ev := range events {
		frame, err := message.EncodeEvent(id, ev)
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to encode event")
			continue
		}
		if err := conn.SendContext(ctx, frame); err != nil {
			return fmt.Errorf("replay of %s interrupted: %w", id, err)
		}
	}

	frame, err := message.EncodeEOSE(id)
	if err != nil {
		return err
	}
	return conn.SendContext(ctx, frame)
}

// Unsubscribe closes subscription id. Unknown ids are ignored.
func (h *SubscriptionHandler) Unsubscribe(_ context.Context, conn Connection, id string) error {
	if conn.Unsubscribe(id) {
		log.Debug().Str("client_id", conn.ID()).Str("subscription_id", id).Msg("subscription closed")
	}
	return nil
}
