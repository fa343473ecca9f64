package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/auditchain/internal/audit"
)

type AppendEventInput struct {
	OrgID string `path:"orgID"`
	Body  struct {
		EventType    string  `json:"event_type" minLength:"1" maxLength:"255" doc:"Event type, e.g. DOCUMENT_SIGNED"`
		ActorID      *string `json:"actor_id,omitempty" doc:"Acting user; omitted for system events"`
		EntityType   *string `json:"entity_type,omitempty" doc:"Type of the affected entity"`
		EntityID     *string `json:"entity_id,omitempty" doc:"Id of the affected entity"`
		EventPayload string  `json:"event_payload,omitempty" doc:"JSON document describing the event, encoded as a string"`
	}
}

type EventOutput struct {
	Body audit.Record
}

type OrgPathInput struct {
	OrgID string `path:"orgID"`
}

type ListEventsOutput struct {
	Body []audit.Record
}

type VerifyOutput struct {
	Body audit.Verification
}

func RegisterEventRoutes(api huma.API, store DataStore, log AuditLog, verifier ChainVerifier) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-event",
		Method:        http.MethodPost,
		Path:          "/orgs/{orgID}/events",
		Summary:       "Append an event to the organization's audit chain",
		Tags:          []string{"Events"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *AppendEventInput) (*EventOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, true); err != nil {
			return nil, err
		}

		var payload any
		if input.Body.EventPayload != "" {
			if !json.Valid([]byte(input.Body.EventPayload)) {
				return nil, huma.Error400BadRequest("event_payload must be a JSON document")
			}
			payload = json.RawMessage(input.Body.EventPayload)
		}

		e, err := log.Append(ctx, audit.AppendInput{
			EventType:  input.Body.EventType,
			ActorID:    input.Body.ActorID,
			OrgID:      input.OrgID,
			EntityType: input.Body.EntityType,
			EntityID:   input.Body.EntityID,
			Payload:    payload,
		})
		if err != nil {
			return nil, statusError("failed to append event", err)
		}

		return &EventOutput{Body: audit.NewRecord(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgID}/events",
		Summary:     "List the organization's audit chain in order",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *OrgPathInput) (*ListEventsOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, false); err != nil {
			return nil, err
		}
		if err := requireOrgExists(ctx, store, input.OrgID); err != nil {
			return nil, err
		}

		events, err := log.List(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to list events", err)
		}

		return &ListEventsOutput{Body: audit.NewRecords(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-chain",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgID}/verify",
		Summary:     "Replay and verify the organization's audit chain",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *OrgPathInput) (*VerifyOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, false); err != nil {
			return nil, err
		}
		if err := requireOrgExists(ctx, store, input.OrgID); err != nil {
			return nil, err
		}

		res, err := verifier.Verify(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to verify chain", err)
		}

		return &VerifyOutput{Body: audit.NewVerification(res)}, nil
	})
}

func requireOrgExists(ctx context.Context, store DataStore, orgID string) error {
	ok, err := store.Organizations().Exists(ctx, orgID)
	if err != nil {
		return statusError("failed to look up organization", err)
	}
	if !ok {
		return huma.Error404NotFound("organization not found")
	}
	return nil
}
