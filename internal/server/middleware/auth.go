package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gosuda/auditchain/internal/auth"
)

// Auth authenticates Bearer tokens and stores the caller's org, actor and
// role in the request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := extractBearer(r); tok != "" {
				ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateToken(secret, tokenStr)
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyOrgID, claims.OrgID)
	ctx = context.WithValue(ctx, ContextKeyActorID, claims.Subject)
	ctx = context.WithValue(ctx, ContextKeyRole, claims.Role)
	return ctx, true
}
