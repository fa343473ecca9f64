package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/auditchain/internal/domain"
)

type LitigationHoldRepo struct {
	pool *pgxpool.Pool
}

func NewLitigationHoldRepo(pool *pgxpool.Pool) *LitigationHoldRepo {
	return &LitigationHoldRepo{pool: pool}
}

func (r *LitigationHoldRepo) Activate(ctx context.Context, orgID, activatedBy string, at time.Time) (*domain.LitigationHold, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO litigation_holds (org_id, active, activated_at, activated_by)
		 VALUES ($1, true, $2, $3)
		 ON CONFLICT (org_id) DO UPDATE
		 SET active = true, activated_at = EXCLUDED.activated_at, activated_by = EXCLUDED.activated_by
		 RETURNING org_id, active, activated_at, activated_by`,
		orgID, at, activatedBy,
	)

	h, err := scanHold(row)
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Activate: %w", classify(err))
	}

	return h, nil
}

func (r *LitigationHoldRepo) Release(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE litigation_holds SET active = false
		 WHERE org_id = $1
		 RETURNING org_id, active, activated_at, activated_by`,
		orgID,
	)

	h, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("litigationHoldRepo.Release: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Release: %w", classify(err))
	}

	return h, nil
}

func (r *LitigationHoldRepo) Get(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT org_id, active, activated_at, activated_by
		 FROM litigation_holds WHERE org_id = $1`,
		orgID,
	)

	h, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("litigationHoldRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Get: %w", classify(err))
	}

	return h, nil
}

func scanHold(row pgx.Row) (*domain.LitigationHold, error) {
	var h domain.LitigationHold
	if err := row.Scan(&h.OrgID, &h.Active, &h.ActivatedAt, &h.ActivatedBy); err != nil {
		return nil, err
	}
	if h.ActivatedAt != nil {
		at := h.ActivatedAt.UTC()
		h.ActivatedAt = &at
	}
	return &h, nil
}
