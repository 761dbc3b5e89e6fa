package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates WebSocket origins against an allowlist.
// An empty allowlist accepts every origin, which is the norm for public relays.
type OriginChecker struct {
	allowedOrigins []string
}

// NewOriginChecker creates a new origin checker.
func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	return &OriginChecker{allowedOrigins: allowedOrigins}
}

// CheckOrigin validates the origin header in a request.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	if len(oc.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")

	// Non-browser clients do not send an Origin header.
	if origin == "" {
		return true
	}

	for _, allowed := range oc.allowedOrigins {
		if matchOrigin(origin, allowed) {
			return true
		}
	}

	return false
}

// matchOrigin supports exact matches and wildcard subdomains (*.example.com).
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if !strings.HasPrefix(allowed, "*.") {
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		return false
	}

	domain := allowed[1:] // ".example.com"
	host := parsedOrigin.Hostname()
	return strings.HasSuffix(host, domain) || host == domain[1:]
}
