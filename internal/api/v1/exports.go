package v1

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/audit"
)

type CreateExportInput struct {
	OrgID string `path:"orgID"`
	Body  struct {
		Scope string `json:"scope,omitempty" enum:"full" default:"full" doc:"Export scope"`
	} `required:"false"`
}

type Export struct {
	ExportID     string             `json:"export_id"`
	File         string             `json:"file"`
	EventCount   int                `json:"event_count"`
	PackageHash  string             `json:"package_hash"`
	Verification audit.Verification `json:"verification"`
}

type ExportOutput struct {
	Body Export
}

// RegisterExportRoutes wires regulatory export packaging. A successful export
// is recorded as an EXPORT_CREATED event after the package is written, so the
// package never contains its own creation event. A package whose event cannot
// be recorded is deleted.
func RegisterExportRoutes(api huma.API, store DataStore, exporter Exporter, auditLog AuditLog) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-export",
		Method:        http.MethodPost,
		Path:          "/orgs/{orgID}/exports",
		Summary:       "Build a regulatory export package",
		Tags:          []string{"Exports"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateExportInput) (*ExportOutput, error) {
		if err := authorizeOrg(ctx, input.OrgID, true); err != nil {
			return nil, err
		}
		if err := requireOrgExists(ctx, store, input.OrgID); err != nil {
			return nil, err
		}

		scope := input.Body.Scope
		if scope == "" {
			scope = "full"
		}

		res, err := exporter.Export(ctx, input.OrgID, scope)
		if err != nil {
			return nil, statusError("failed to build export", err)
		}

		entityType := "export"
		entityID := res.Manifest.ExportID.String()
		_, err = auditLog.Append(ctx, audit.AppendInput{
			EventType:  EventExportCreated,
			ActorID:    callerActor(ctx),
			OrgID:      input.OrgID,
			EntityType: &entityType,
			EntityID:   &entityID,
			Payload: map[string]any{
				"export_id":    entityID,
				"scope":        scope,
				"event_count":  res.EventCount,
				"package_hash": res.Manifest.PackageHash,
			},
		})
		if err != nil {
			discardPackage(input.OrgID, entityID, res.Path, err)
			return nil, statusError("failed to record export event", err)
		}

		return &ExportOutput{Body: Export{
			ExportID:     entityID,
			File:         filepath.Base(res.Path),
			EventCount:   res.EventCount,
			PackageHash:  res.Manifest.PackageHash,
			Verification: audit.NewVerification(res.Verification),
		}}, nil
	})
}

func discardPackage(orgID, exportID, path string, cause error) {
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Error().Err(rmErr).AnErr("cause", cause).
			Str("org_id", orgID).Str("export_id", exportID).Str("path", path).
			Msg("export not recorded and package could not be removed")
		return
	}
	log.Error().Err(cause).
		Str("org_id", orgID).Str("export_id", exportID).
		Msg("export not recorded, package removed")
}
