package ratelimit

import (
	"context"
	"fmt"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/security"
	"github.com/rs/zerolog/log"
)

// Gate admits or rejects new connections by client address.
type Gate struct {
	store  Store
	limits func() config.ConnectionLimits
}

// NewGate creates a Gate. limits is read on every check so reloaded settings
// apply to the next connection.
func NewGate(store Store, limits func() config.ConnectionLimits) *Gate {
	return &Gate{store: store, limits: limits}
}

// IsLimited reports whether addr exceeded any configured connection rate.
// Whitelisted addresses are never limited. A failing store admits the
// connection.
func (g *Gate) IsLimited(ctx context.Context, addr string) bool {
	limits := g.limits()

	whitelist, err := security.ParseNetworks(limits.IPWhitelist)
	if err != nil {
		log.Warn().Err(err).Msg("invalid connection whitelist")
	}
	if whitelist.Contains(addr) {
		return false
	}

	limited := false
	for _, rl := range limits.RateLimits {
		key := fmt.Sprintf("%s:connection:%d", addr, rl.Period.Milliseconds())

		hit, err := g.store.Hit(ctx, key, rl.Period, rl.Rate)
		if err != nil {
			log.Error().Err(err).Str("remote_addr", addr).Msg("unable to check connection rate limit")
			continue
		}
		if hit {
			limited = true
		}
	}

	return limited
}
