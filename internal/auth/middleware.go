package auth

import (
	"context"
	"net/http"
	"strings"
)

type identityKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached by the middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// Middleware rejects requests without a valid bearer token, except on open paths.
type Middleware struct {
	config Config
	open   map[string]bool
}

// NewMiddleware constructs Middleware. /healthz and /metrics stay open.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{config: cfg, open: map[string]bool{"/healthz": true, "/metrics": true}}
}

// Wrap attaches the caller's identity to the request context.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.open[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		id, err := Parse(bearerToken(r), m.config)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="circuit"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return token
}
