// Package handler routes decoded relay messages to the handler responsible
// for them.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/message"
	"github.com/brianly1003/nrelay/internal/metrics"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
)

// Connection is the per-connection surface the handlers need.
type Connection interface {
	ID() string
	RemoteAddr() string
	Send(frame []byte)
	SendContext(ctx context.Context, frame []byte) error
	Subscribe(id string, filters nostr.Filters)
	Unsubscribe(id string) bool
	HasSubscription(id string) bool
	SubscriptionCount() int
}

// Handler processes one message for the connection it was resolved for.
type Handler interface {
	Handle(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context) error {
	return f(ctx)
}

// Dispatcher selects the handler for each inbound message.
type Dispatcher struct {
	events        *EventHandler
	subscriptions *SubscriptionHandler
	metrics       *metrics.Metrics
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(events *EventHandler, subscriptions *SubscriptionHandler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		events:        events,
		subscriptions: subscriptions,
		metrics:       m,
	}
}

// Resolve returns the handler for msg bound to conn. An unrecognized message
// type yields domain.ErrUnknownMessageType; the connection is left open.
func (d *Dispatcher) Resolve(msg message.Message, conn Connection) (Handler, error) {
	switch m := msg.(type) {
	case *message.EventMessage:
		return HandlerFunc(func(ctx context.Context) error {
			return d.events.Handle(ctx, conn, m.Event)
		}), nil
	case *message.ReqMessage:
		return HandlerFunc(func(ctx context.Context) error {
			return d.subscriptions.Subscribe(ctx, conn, m.SubscriptionID, m.Filters)
		}), nil
	case *message.CloseMessage:
		return HandlerFunc(func(ctx context.Context) error {
			return d.subscriptions.Unsubscribe(ctx, conn, m.SubscriptionID)
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, msg.Type())
	}
}

// HandleFrame decodes one raw frame, resolves its handler and runs it.
// Protocol errors are reported to the client as NOTICE frames.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn Connection, data []byte) {
	msg, err := message.Parse(data)
	if err != nil {
		log.Debug().Err(err).Str("client_id", conn.ID()).Msg("malformed message")
		sendNotice(conn, "invalid: "+reason(err, domain.ErrInvalidMessage))
		return
	}

	kind := string(msg.Type())
	if _, ok := msg.(*message.UnknownMessage); ok {
		kind = "unknown"
	}
	d.metrics.Message(kind)

	h, err := d.Resolve(msg, conn)
	if err != nil {
		log.Warn().Err(err).Str("client_id", conn.ID()).Msg("unable to route message")
		sendNotice(conn, "invalid: unknown message type")
		return
	}

	if err := h.Handle(ctx); err != nil {
		log.Debug().
			Err(err).
			Str("client_id", conn.ID()).
			Str("type", string(msg.Type())).
			Msg("message not handled")
	}
}

// reason strips the sentinel prefix from a wrapped error message.
func reason(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if errors.Is(err, sentinel) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func sendNotice(conn Connection, text string) {
	frame, err := message.EncodeNotice(text)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode notice")
		return
	}
	conn.Send(frame)
}

func sendOK(conn Connection, eventID string, accepted bool, text string) {
	frame, err := message.EncodeOK(eventID, accepted, text)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode OK")
		return
	}
	conn.Send(frame)
}
