package middleware

import "net/http"

// RequireOrg rejects callers that are neither bound to an organization nor
// admins.
func RequireOrg() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := RoleFromContext(r.Context())
			oid, _ := OrgIDFromContext(r.Context())
			if oid == "" && role != RoleAdmin {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"organization required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
