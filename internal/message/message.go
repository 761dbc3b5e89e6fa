// Package message implements the relay's JSON-array wire grammar.
//
// Inbound frames are classified by their leading string discriminator:
//
//	["EVENT", <event>]
//	["REQ", <subscription id>, <filter>, ...]
//	["CLOSE", <subscription id>]
//
// Outbound frames are built with the Encode helpers in encode.go.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/nbd-wtf/go-nostr"
)

// Type is the discriminator of a wire message.
type Type string

// Message types.
const (
	TypeEvent  Type = "EVENT"
	TypeReq    Type = "REQ"
	TypeClose  Type = "CLOSE"
	TypeEOSE   Type = "EOSE"
	TypeNotice Type = "NOTICE"
	TypeOK     Type = "OK"
)

// MaxSubscriptionIDLength bounds client-chosen subscription names.
const MaxSubscriptionIDLength = 64

// Message is a decoded inbound frame.
type Message interface {
	Type() Type
}

// EventMessage submits an event.
type EventMessage struct {
	Event *domain.Event
}

// Type implements Message.
func (m *EventMessage) Type() Type { return TypeEvent }

// ReqMessage opens (or replaces) a subscription.
type ReqMessage struct {
	SubscriptionID string
	Filters        nostr.Filters
}

// Type implements Message.
func (m *ReqMessage) Type() Type { return TypeReq }

// CloseMessage closes a subscription.
type CloseMessage struct {
	SubscriptionID string
}

// Type implements Message.
func (m *CloseMessage) Type() Type { return TypeClose }

// UnknownMessage is a well-formed frame whose discriminator is not recognized.
type UnknownMessage struct {
	Discriminator string
}

// Type implements Message.
func (m *UnknownMessage) Type() Type { return Type(m.Discriminator) }

// Parse decodes a raw frame into a Message.
// Frames with an unrecognized discriminator decode to *UnknownMessage;
// routing them is the dispatcher's decision.
func Parse(data []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array", domain.ErrInvalidMessage)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty array", domain.ErrInvalidMessage)
	}

	var discriminator string
	if err := json.Unmarshal(parts[0], &discriminator); err != nil {
		return nil, fmt.Errorf("%w: message type must be a string", domain.ErrInvalidMessage)
	}

	switch Type(discriminator) {
	case TypeEvent:
		return parseEvent(parts)
	case TypeReq:
		return parseReq(parts)
	case TypeClose:
		return parseClose(parts)
	default:
		return &UnknownMessage{Discriminator: discriminator}, nil
	}
}

func parseEvent(parts []json.RawMessage) (Message, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: EVENT expects 1 argument, got %d", domain.ErrInvalidMessage, len(parts)-1)
	}

	var ev nostr.Event
	if err := json.Unmarshal(parts[1], &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", domain.ErrInvalidMessage, err)
	}
	if ev.ID == "" || ev.PubKey == "" || ev.Sig == "" {
		return nil, fmt.Errorf("%w: event is missing id, pubkey or sig", domain.ErrInvalidMessage)
	}

	return &EventMessage{Event: domain.NewEvent(ev)}, nil
}

func parseReq(parts []json.RawMessage) (Message, error) {
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: REQ expects a subscription id and at least one filter", domain.ErrInvalidMessage)
	}

	subscriptionID, err := parseSubscriptionID(parts[1])
	if err != nil {
		return nil, err
	}

	filters := make(nostr.Filters, 0, len(parts)-2)
	for _, raw := range parts[2:] {
		var filter nostr.Filter
		if err := json.Unmarshal(raw, &filter); err != nil {
			return nil, fmt.Errorf("%w: malformed filter: %v", domain.ErrInvalidMessage, err)
		}
		filters = append(filters, filter)
	}

	return &ReqMessage{SubscriptionID: subscriptionID, Filters: filters}, nil
}

func parseClose(parts []json.RawMessage) (Message, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: CLOSE expects 1 argument, got %d", domain.ErrInvalidMessage, len(parts)-1)
	}

	subscriptionID, err := parseSubscriptionID(parts[1])
	if err != nil {
		return nil, err
	}

	return &CloseMessage{SubscriptionID: subscriptionID}, nil
}

func parseSubscriptionID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: subscription id must be a string", domain.ErrInvalidMessage)
	}
	if id == "" || len(id) > MaxSubscriptionIDLength {
		return "", fmt.Errorf("%w: subscription id must be 1 to %d characters", domain.ErrInvalidMessage, MaxSubscriptionIDLength)
	}
	return id, nil
}
