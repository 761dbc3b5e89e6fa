// Package strategy persists accepted events and triggers their broadcast.
//
// A strategy is the only component allowed to write an event to the store
// and the only one that broadcasts it. The default strategy broadcasts only
// after a successful first insertion; ephemeral events are broadcast without
// ever being stored.
package strategy

import (
	"context"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Repository is the write side of the event store.
// Create returns 0 when an event with the same id already exists.
type Repository interface {
	Create(ctx context.Context, ev *domain.Event) (int64, error)
}

// Broadcaster fans an event out to live subscribers.
type Broadcaster interface {
	Broadcast(ev *domain.Event)
}

// Outcome describes what a strategy did with an event.
type Outcome int

const (
	// OutcomeStored means the event was inserted for the first time and broadcast.
	OutcomeStored Outcome = iota
	// OutcomeDuplicate means the event already existed; nothing was broadcast.
	OutcomeDuplicate
	// OutcomeEphemeral means the event was broadcast without being stored.
	OutcomeEphemeral
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeEphemeral:
		return "ephemeral"
	}
	return "unknown"
}

// Strategy handles one validated event.
type Strategy interface {
	Execute(ctx context.Context, ev *domain.Event) (Outcome, error)
}

// Factory selects the strategy for an event.
type Factory func(ev *domain.Event) Strategy

// NewFactory returns a Factory routing ephemeral kinds to the ephemeral
// strategy and everything else to the default one.
func NewFactory(repo Repository, broadcaster Broadcaster) Factory {
	def := NewDefault(repo, broadcaster)
	ephemeral := NewEphemeral(broadcaster)

	return func(ev *domain.Event) Strategy {
		if ev.IsEphemeral() {
			return ephemeral
		}
		return def
	}
}

// Default stores the event and broadcasts it on first insertion.
type Default struct {
	repo        Repository
	broadcaster Broadcaster
}

// NewDefault creates the store-then-broadcast strategy.
func NewDefault(repo Repository, broadcaster Broadcaster) *Default {
	return &Default{repo: repo, broadcaster: broadcaster}
}

// Execute persists ev. A storage failure is returned as a *domain.StorageError
// and nothing is broadcast; there is no retry.
func (s *Default) Execute(ctx context.Context, ev *domain.Event) (Outcome, error) {
	count, err := s.repo.Create(ctx, ev)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ID).
			Str("pubkey", ev.PubKey).
			Msg("unable to handle event")
		return 0, domain.NewStorageError("create", err)
	}

	if count == 0 {
		log.Debug().Str("event_id", ev.ID).Msg("event already stored")
		return OutcomeDuplicate, nil
	}

	s.broadcaster.Broadcast(ev)
	return OutcomeStored, nil
}

// Ephemeral broadcasts without storing.
type Ephemeral struct {
	broadcaster Broadcaster
}

// NewEphemeral creates the broadcast-only strategy.
func NewEphemeral(broadcaster Broadcaster) *Ephemeral {
	return &Ephemeral{broadcaster: broadcaster}
}

// Execute broadcasts ev.
func (s *Ephemeral) Execute(_ context.Context, ev *domain.Event) (Outcome, error) {
	s.broadcaster.Broadcast(ev)
	return OutcomeEphemeral, nil
}
