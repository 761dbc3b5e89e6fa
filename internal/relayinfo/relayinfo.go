// Package relayinfo serves the relay information document (NIP-11).
package relayinfo

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/message"
	"github.com/rs/zerolog/log"
)

// ContentType is the media type clients send in Accept to request the document.
const ContentType = "application/nostr+json"

// SupportedNIPs lists the protocol extensions this relay implements.
var SupportedNIPs = []int{1, 11, 20, 26}

// Document is the NIP-11 relay information document.
type Document struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Pubkey        string     `json:"pubkey,omitempty"`
	Contact       string     `json:"contact,omitempty"`
	SupportedNIPs []int      `json:"supported_nips"`
	Software      string     `json:"software"`
	Version       string     `json:"version"`
	Limitation    Limitation `json:"limitation"`
}

// Limitation advertises the limits clients should respect.
type Limitation struct {
	MaxMessageLength    int   `json:"max_message_length"`
	MaxSubscriptions    int   `json:"max_subscriptions"`
	MaxFilters          int   `json:"max_filters"`
	MaxSubIDLength      int   `json:"max_subid_length"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit"`
}

// Build assembles the document from the current settings.
func Build(cfg *config.Config, version string) Document {
	return Document{
		Name:          cfg.Info.Name,
		Description:   cfg.Info.Description,
		Pubkey:        cfg.Info.Pubkey,
		Contact:       cfg.Info.Contact,
		SupportedNIPs: SupportedNIPs,
		Software:      "https://github.com/brianly1003/nrelay",
		Version:       version,
		Limitation: Limitation{
			MaxMessageLength:    cfg.Network.MaxPayloadSize,
			MaxSubscriptions:    cfg.Limits.Client.Subscription.MaxSubscriptions,
			MaxFilters:          cfg.Limits.Client.Subscription.MaxFilters,
			MaxSubIDLength:      message.MaxSubscriptionIDLength,
			CreatedAtLowerLimit: cfg.Limits.Event.CreatedAt.MaxNegativeDelta,
			CreatedAtUpperLimit: cfg.Limits.Event.CreatedAt.MaxPositiveDelta,
		},
	}
}

// Handler serves the document to clients that ask for it and a short plain
// text hint to everyone else. settings is read on every request.
func Handler(settings func() *config.Config, version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Accept")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !strings.Contains(r.Header.Get("Accept"), ContentType) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("Please use a Nostr client to connect.\n"))
			return
		}

		w.Header().Set("Content-Type", ContentType)
		if err := json.NewEncoder(w).Encode(Build(settings(), version)); err != nil {
			log.Debug().Err(err).Msg("failed to write relay information document")
		}
	})
}
