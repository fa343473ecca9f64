package middleware

import (
	"context"
	"net/http"
	"slices"
)

// Role constants define the supported caller roles. Viewers may read chains
// and verification results but never append.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// KnownRoles lists every role a collaborator token may carry.
var KnownRoles = []string{RoleAdmin, RoleMember, RoleViewer} //nolint:gochecknoglobals // fixed role set

// HasRole reports whether the authenticated caller holds one of roles.
func HasRole(ctx context.Context, roles ...string) bool {
	role, ok := RoleFromContext(ctx)
	if !ok || role == "" {
		return false
	}
	return slices.Contains(roles, role)
}

// RequireRole returns middleware that admits only callers holding one of the
// allowed roles. It must be chained after Auth.
//
// Returns 401 Unauthorized when no role is found in context and 403 Forbidden
// when the role is not allowed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if role, ok := RoleFromContext(r.Context()); !ok || role == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			if !HasRole(r.Context(), roles...) {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"insufficient permissions"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireKnownRole rejects tokens whose role is outside KnownRoles.
func RequireKnownRole() func(http.Handler) http.Handler {
	return RequireRole(KnownRoles...)
}

func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(RoleAdmin)
}
