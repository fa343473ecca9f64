package v1

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/server/middleware"
)

// Event types recorded by the API itself.
const (
	EventLitigationHoldActivated = "LITIGATION_HOLD_ACTIVATED"
	EventLitigationHoldReleased  = "LITIGATION_HOLD_RELEASED"
	EventExportCreated           = "EXPORT_CREATED"
)

// statusError maps a domain error kind onto an HTTP problem response.
func statusError(msg string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return huma.Error400BadRequest(msg, err)
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden(msg, err)
	case errors.Is(err, domain.ErrConflict):
		return huma.Error409Conflict(msg, err)
	case errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

// authorizeOrg checks that the caller may read orgID, and also write to it
// when write is set. Viewers are read-only.
func authorizeOrg(ctx context.Context, orgID string, write bool) error {
	if !middleware.CanAccessOrg(ctx, orgID) {
		return huma.Error403Forbidden("organization access denied")
	}
	if write && middleware.HasRole(ctx, middleware.RoleViewer) {
		return huma.Error403Forbidden("insufficient permissions")
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	if !middleware.HasRole(ctx, middleware.RoleAdmin) {
		return huma.Error403Forbidden("admin role required")
	}
	return nil
}

func callerActor(ctx context.Context) *string {
	actor, ok := middleware.ActorIDFromContext(ctx)
	if !ok || actor == "" {
		return nil
	}
	return &actor
}
