package domain

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event kind ranges with special storage semantics.
const (
	EphemeralKindMin = 20000
	EphemeralKindMax = 29999
)

// DelegationTag is the name of the tag carrying a NIP-26 delegation proof.
const DelegationTag = "delegation"

// Event is a signed, content-addressed record submitted by a client.
//
// The embedded nostr.Event owns the wire representation. Delegator is an
// annotation set during validation when the event was published on behalf of
// another key; it is never serialized nor persisted.
type Event struct {
	nostr.Event

	Delegator string `json:"-"`
}

// NewEvent wraps a nostr event.
func NewEvent(ev nostr.Event) *Event {
	return &Event{Event: ev}
}

// IsEphemeral reports whether the event kind is never stored.
func (e *Event) IsEphemeral() bool {
	return e.Kind >= EphemeralKindMin && e.Kind <= EphemeralKindMax
}

// IsDelegated reports whether the event carries a four-element delegation tag.
func (e *Event) IsDelegated() bool {
	return e.DelegationTag() != nil
}

// DelegationTag returns the event's delegation tag, or nil if there is none.
func (e *Event) DelegationTag() nostr.Tag {
	for _, tag := range e.Tags {
		if len(tag) == 4 && tag[0] == DelegationTag {
			return tag
		}
	}
	return nil
}

// EffectiveAuthor returns the delegator when set, the literal author otherwise.
func (e *Event) EffectiveAuthor() string {
	if e.Delegator != "" {
		return e.Delegator
	}
	return e.PubKey
}
