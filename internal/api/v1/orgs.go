package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/auditchain/internal/domain"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func newOrganization(o *domain.Organization) Organization {
	return Organization{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

type CreateOrgInput struct {
	Body struct {
		ID   string `json:"id" minLength:"1" maxLength:"128" pattern:"^[A-Za-z0-9][A-Za-z0-9._-]*$" doc:"Organization id"`
		Name string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
	}
}

type OrgOutput struct {
	Body Organization
}

type GetOrgInput struct {
	OrgID string `path:"orgID"`
}

type ListOrgsInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListOrgsOutput struct {
	Body []Organization
}

func RegisterOrgRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "create-org",
		Method:      http.MethodPost,
		Path:        "/orgs",
		Summary:     "Register an organization",
		Tags:        []string{"Organizations"},
	}, func(ctx context.Context, input *CreateOrgInput) (*OrgOutput, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}

		o := &domain.Organization{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Organizations().Create(ctx, o); err != nil {
			return nil, statusError("failed to create organization", err)
		}

		return &OrgOutput{Body: newOrganization(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List organizations",
		Tags:        []string{"Organizations"},
	}, func(ctx context.Context, input *ListOrgsInput) (*ListOrgsOutput, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}

		orgs, err := store.Organizations().List(ctx, input.Limit, input.Offset)
		if err != nil {
			return nil, statusError("failed to list organizations", err)
		}

		out := make([]Organization, 0, len(orgs))
		for _, o := range orgs {
			out = append(out, newOrganization(o))
		}
		return &ListOrgsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgID}",
		Summary:     "Get an organization",
		Tags:        []string{"Organizations"},
	}, func(ctx context.Context, input *GetOrgInput) (*OrgOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, false); err != nil {
			return nil, err
		}

		o, err := store.Organizations().GetByID(ctx, input.OrgID)
		if err != nil {
			return nil, statusError("failed to get organization", err)
		}

		return &OrgOutput{Body: newOrganization(o)}, nil
	})
}
