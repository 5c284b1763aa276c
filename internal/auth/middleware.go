package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
)

type ctxKey string

const ctxPrincipal ctxKey = "elnote.principal"

// FromContext returns the Principal attached by Middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxPrincipal).(*Principal)
	return p
}

// Middleware extracts and verifies the bearer access token, attaching the
// resulting Principal to the request context. It does not itself reject
// unauthenticated requests — handlers decide whether auth is required via
// RequirePrincipal, so /healthz and auth routes stay reachable.
func Middleware(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				raw := strings.TrimSpace(authz[len("bearer "):])
				if p, err := tokens.ParseAccessToken(raw); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), ctxPrincipal, p))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePrincipal returns the authenticated Principal or an Unauthorized
// apperr.Error.
func RequirePrincipal(ctx context.Context) (*Principal, error) {
	p := FromContext(ctx)
	if p == nil {
		return nil, apperr.Unauthorized("missing or invalid access token")
	}
	return p, nil
}

// RequireRole checks the principal's role against the allowed set.
func RequireRole(p *Principal, allowed ...Role) error {
	for _, r := range allowed {
		if p.Role == r {
			return nil
		}
	}
	return apperr.Forbidden("role %s is not permitted to perform this action", p.Role)
}
