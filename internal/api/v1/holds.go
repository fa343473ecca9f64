package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
)

type LitigationHold struct {
	OrgID       string     `json:"org_id"`
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at"`
	ActivatedBy *string    `json:"activated_by"`
}

func newLitigationHold(h *domain.LitigationHold) LitigationHold {
	return LitigationHold{
		OrgID:       h.OrgID,
		Active:      h.Active,
		ActivatedAt: h.ActivatedAt,
		ActivatedBy: h.ActivatedBy,
	}
}

type HoldOutput struct {
	Body LitigationHold
}

// RegisterHoldRoutes wires litigation hold management. Every state change is
// itself recorded on the organization's chain. When that record cannot be
// written an activation stays in effect, while a release is undone.
func RegisterHoldRoutes(api huma.API, store DataStore, holds HoldService, auditLog AuditLog) {
	huma.Register(api, huma.Operation{
		OperationID: "get-litigation-hold",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgID}/litigation-hold",
		Summary:     "Get the organization's litigation hold",
		Tags:        []string{"Litigation hold"},
	}, func(ctx context.Context, input *OrgPathInput) (*HoldOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, false); err != nil {
			return nil, err
		}
		if err := requireOrgExists(ctx, store, input.OrgID); err != nil {
			return nil, err
		}

		h, err := holds.Get(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to get litigation hold", err)
		}

		return &HoldOutput{Body: newLitigationHold(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-litigation-hold",
		Method:      http.MethodPost,
		Path:        "/orgs/{orgID}/litigation-hold",
		Summary:     "Activate a litigation hold",
		Tags:        []string{"Litigation hold"},
	}, func(ctx context.Context, input *OrgPathInput) (*HoldOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, true); err != nil {
			return nil, err
		}
		if err := requireOrgExists(ctx, store, input.OrgID); err != nil {
			return nil, err
		}

		actor := callerActor(ctx)
		if actor == nil {
			return nil, huma.Error403Forbidden("actor required")
		}

		h, err := holds.Activate(ctx, input.OrgID, *actor)
		if err != nil {
			return nil, statusError("failed to activate litigation hold", err)
		}

		if err := recordHoldEvent(ctx, auditLog, EventLitigationHoldActivated, input.OrgID, actor); err != nil {
			log.Error().Err(err).Str("org_id", input.OrgID).Str("actor_id", *actor).
				Msg("litigation hold activated without an audit record")
			return nil, err
		}

		return &HoldOutput{Body: newLitigationHold(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-litigation-hold",
		Method:      http.MethodDelete,
		Path:        "/orgs/{orgID}/litigation-hold",
		Summary:     "Release a litigation hold",
		Tags:        []string{"Litigation hold"},
	}, func(ctx context.Context, input *OrgPathInput) (*HoldOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, true); err != nil {
			return nil, err
		}

		prev, err := holds.Get(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to get litigation hold", err)
		}

		h, err := holds.Release(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to release litigation hold", err)
		}

		actor := callerActor(ctx)
		if err := recordHoldEvent(ctx, auditLog, EventLitigationHoldReleased, input.OrgID, actor); err != nil {
			if prev.Active {
				restoreHold(ctx, holds, prev, actor)
			}
			return nil, err
		}

		return &HoldOutput{Body: newLitigationHold(h)}, nil
	})
}

// restoreHold reactivates a hold whose release could not be recorded.
func restoreHold(ctx context.Context, holds HoldService, prev *domain.LitigationHold, actor *string) {
	by := prev.ActivatedBy
	if by == nil {
		by = actor
	}
	if by == nil {
		log.Error().Str("org_id", prev.OrgID).Msg("litigation hold released without an audit record")
		return
	}

	if _, err := holds.Activate(context.WithoutCancel(ctx), prev.OrgID, *by); err != nil {
		log.Error().Err(err).Str("org_id", prev.OrgID).Msg("litigation hold released without an audit record")
		return
	}
	log.Error().Str("org_id", prev.OrgID).Msg("litigation hold release not recorded, hold restored")
}

func recordHoldEvent(ctx context.Context, auditLog AuditLog, eventType, orgID string, actor *string) error {
	entityType := "organization"
	entityID := orgID

	_, err := auditLog.Append(ctx, audit.AppendInput{
		EventType:  eventType,
		ActorID:    actor,
		OrgID:      orgID,
		EntityType: &entityType,
		EntityID:   &entityID,
		Payload:    map[string]any{"org_id": orgID},
	})
	if err != nil {
		return statusError("failed to record litigation hold event", err)
	}
	return nil
}
