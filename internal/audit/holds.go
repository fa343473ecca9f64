package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/domain"
)

// HoldRegistry manages litigation holds. Holds are advisory: the audit core
// never consults them, it only records and reports them for retention and
// deletion jobs to honor.
type HoldRegistry struct {
	holds domain.LitigationHoldRepository
	now   func() time.Time
}

func NewHoldRegistry(holds domain.LitigationHoldRepository) *HoldRegistry {
	return &HoldRegistry{holds: holds, now: time.Now}
}

func (r *HoldRegistry) Activate(ctx context.Context, orgID, activatedBy string) (*domain.LitigationHold, error) {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(activatedBy) == "" {
		return nil, fmt.Errorf("audit.HoldRegistry.Activate: %w: org id and activated by are required", domain.ErrInvalidInput)
	}

	h, err := r.holds.Activate(ctx, orgID, activatedBy, r.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return nil, fmt.Errorf("audit.HoldRegistry.Activate: %w", err)
	}

	log.Info().Str("org_id", orgID).Str("activated_by", activatedBy).Msg("audit: litigation hold activated")
	return h, nil
}

// Release clears an active hold. Releasing an organization that never had a
// hold is ErrNotFound.
func (r *HoldRegistry) Release(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	h, err := r.holds.Release(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("audit.HoldRegistry.Release: %w", err)
	}

	log.Info().Str("org_id", orgID).Msg("audit: litigation hold released")
	return h, nil
}

// Get returns the organization's hold, or an inactive placeholder when none
// was ever activated.
func (r *HoldRegistry) Get(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	h, err := r.holds.Get(ctx, orgID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.LitigationHold{OrgID: orgID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit.HoldRegistry.Get: %w", err)
	}
	return h, nil
}

func (r *HoldRegistry) IsActive(ctx context.Context, orgID string) (bool, error) {
	h, err := r.Get(ctx, orgID)
	if err != nil {
		return false, err
	}
	return h.Active, nil
}
