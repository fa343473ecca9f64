package v1

import (
	"context"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/export"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// The postgres, sqlite and memory stores satisfy this interface.
type DataStore interface {
	Organizations() domain.OrganizationRepository
}

// AuditLog abstracts chain append and listing for handler testing.
// *audit.Service satisfies this interface.
type AuditLog interface {
	Append(ctx context.Context, in audit.AppendInput) (*domain.AuditEvent, error)
	List(ctx context.Context, orgID string) ([]*domain.AuditEvent, error)
}

// ChainVerifier abstracts chain verification. *audit.Verifier satisfies this
// interface.
type ChainVerifier interface {
	Verify(ctx context.Context, orgID string) (*domain.ChainVerification, error)
}

// HoldService abstracts litigation hold management. *audit.HoldRegistry
// satisfies this interface.
type HoldService interface {
	Activate(ctx context.Context, orgID, activatedBy string) (*domain.LitigationHold, error)
	Release(ctx context.Context, orgID string) (*domain.LitigationHold, error)
	Get(ctx context.Context, orgID string) (*domain.LitigationHold, error)
}

// Exporter abstracts regulatory export packaging. *export.Packager satisfies
// this interface.
type Exporter interface {
	Export(ctx context.Context, orgID, scope string) (*export.Result, error)
}
