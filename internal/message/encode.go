package message

import (
	"encoding/json"

	"github.com/brianly1003/nrelay/internal/domain"
)

// EncodeEvent builds ["EVENT", subscriptionID, event].
func EncodeEvent(subscriptionID string, event *domain.Event) ([]byte, error) {
	return json.Marshal([]any{TypeEvent, subscriptionID, event})
}

// EncodeEOSE builds ["EOSE", subscriptionID].
func EncodeEOSE(subscriptionID string) ([]byte, error) {
	return json.Marshal([]any{TypeEOSE, subscriptionID})
}

// EncodeNotice builds ["NOTICE", text].
func EncodeNotice(text string) ([]byte, error) {
	return json.Marshal([]any{TypeNotice, text})
}

// EncodeOK builds ["OK", eventID, accepted, text].
func EncodeOK(eventID string, accepted bool, text string) ([]byte, error) {
	return json.Marshal([]any{TypeOK, eventID, accepted, text})
}
