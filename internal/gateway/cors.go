package gateway

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the allow_origins list, shared by the CORS layer and the
// websocket upgrade.
type originPolicy struct {
	anyOrigin bool
	origins   map[string]bool
	hosts     []string
}

func newOriginPolicy(list []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool)}
	for _, o := range list {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.anyOrigin = true
			p.hosts = append(p.hosts, "*")
		case strings.Contains(o, "://"):
			p.origins[o] = true
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				p.hosts = append(p.hosts, u.Host)
			}
		default:
			// A bare host allows it on either scheme.
			p.origins["http://"+o] = true
			p.origins["https://"+o] = true
			p.hosts = append(p.hosts, o)
		}
	}
	return p
}

func (p originPolicy) enabled() bool {
	return p.anyOrigin || len(p.origins) > 0
}

func (p originPolicy) allows(origin string) bool {
	return origin != "" && (p.anyOrigin || p.origins[origin])
}

// wsPatterns is the host pattern list websocket.AcceptOptions expects. An
// empty result leaves the library on same-origin checking.
func (p originPolicy) wsPatterns() []string {
	return p.hosts
}

// CORS answers preflights and stamps Access-Control headers for allowed
// origins. With no origins configured it is a pass-through.
func CORS(allowOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowOrigins)
	if !policy.enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); policy.allows(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
				h.Set("Access-Control-Max-Age", "3600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody caps the request body at maxBytes (1 MiB when unset).
func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
