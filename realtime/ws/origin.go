package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginAllowed validates r.Header["Origin"] against an allow-list.
//
// An empty list allows every origin: the gateway fronts its own auth gate,
// and cross-origin policy is a deployment decision. Entries support:
//   - full Origin values, e.g. "https://app.example.com"
//   - hostnames, e.g. "example.com" (any scheme or port)
//   - wildcard hostnames, e.g. "*.example.com" (base domain and subdomains)
//
// Requests without an Origin header (non-browser clients) are accepted.
func OriginAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	hostname := ""
	if parsed, err := url.Parse(origin); err == nil {
		hostname = strings.ToLower(parsed.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case strings.Contains(entry, "://"):
			if origin == entry {
				return true
			}
		case strings.HasPrefix(entry, "*."):
			base := strings.ToLower(strings.TrimPrefix(entry, "*."))
			if hostname == base || strings.HasSuffix(hostname, "."+base) {
				return true
			}
		default:
			if hostname == strings.ToLower(entry) {
				return true
			}
		}
	}
	return false
}

// OriginChecker returns a websocket upgrader CheckOrigin function.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return OriginAllowed(r, allowed)
	}
}
