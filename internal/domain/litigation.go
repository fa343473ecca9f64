package domain

import (
	"context"
	"time"
)

// LitigationHold is an advisory per-organization flag. Nothing in the audit
// core enforces it; retention and deletion jobs read it before acting.
type LitigationHold struct {
	OrgID       string
	Active      bool
	ActivatedAt *time.Time
	ActivatedBy *string
}

type LitigationHoldRepository interface {
	// Activate creates the hold record on first use.
	Activate(ctx context.Context, orgID, activatedBy string, at time.Time) (*LitigationHold, error)
	Release(ctx context.Context, orgID string) (*LitigationHold, error)
	Get(ctx context.Context, orgID string) (*LitigationHold, error)
}
