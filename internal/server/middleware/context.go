package middleware

import "context"

type contextKey string

const (
	ContextKeyOrgID   contextKey = "org_id"
	ContextKeyActorID contextKey = "actor_id"
	ContextKeyRole    contextKey = "role"
)

func OrgIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyOrgID).(string)
	return v, ok
}

func ActorIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyActorID).(string)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyRole).(string)
	return v, ok
}

// CanAccessOrg reports whether the authenticated caller may act on orgID.
// Admins may act on any organization; everyone else only on their own.
func CanAccessOrg(ctx context.Context, orgID string) bool {
	if role, _ := RoleFromContext(ctx); role == RoleAdmin {
		return true
	}
	own, ok := OrgIDFromContext(ctx)
	return ok && own != "" && own == orgID
}
