package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// credential is the API token a caller presented and where it was found.
type credential struct {
	token  string
	source string
}

// presentedCredential checks Authorization: Bearer, then X-API-Key, then
// ?token=. Browsers cannot set headers on a websocket upgrade, so /ws
// clients use the query form.
func presentedCredential(r *http.Request) credential {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if tok := strings.TrimSpace(rest); tok != "" {
			return credential{token: tok, source: "bearer"}
		}
	}
	if tok := strings.TrimSpace(r.Header.Get("X-API-Key")); tok != "" {
		return credential{token: tok, source: "x-api-key"}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return credential{token: tok, source: "query"}
	}
	return credential{}
}

func (c credential) matches(want string) bool {
	return c.token != "" && subtle.ConstantTimeCompare([]byte(c.token), []byte(want)) == 1
}

// RequireToken rejects requests that do not carry token. An empty token
// disables the check. /healthz and CORS preflights always pass.
func RequireToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			cred := presentedCredential(r)
			if !cred.matches(token) {
				logger.DebugContext(r.Context(), "rejected request token", "path", r.URL.Path, "source", cred.source)
				w.Header().Set("WWW-Authenticate", `Bearer realm="taskmaster"`)
				writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
