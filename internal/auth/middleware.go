package auth

import (
	"net/http"
	"strings"
)

// Skipper reports whether a request may bypass token validation, e.g.
// health checks.
type Skipper func(r *http.Request) bool

// Middleware validates bearer tokens on incoming requests and attaches
// the resulting claims to the request context.
type Middleware struct {
	cfg     Config
	skipper Skipper
}

func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{cfg: cfg, skipper: skipper}
}

// Wrap returns a handler that rejects unauthenticated requests with 401
// before invoking next.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper != nil && m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := claimsFromHeader(r.Header.Get("Authorization"), m.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// claimsFromHeader extracts and validates the token from an
// Authorization header value. The Bearer scheme is matched
// case-insensitively.
func claimsFromHeader(header string, cfg Config) (*Claims, error) {
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrInvalidToken
	}
	return Parse(strings.TrimSpace(token), cfg)
}
