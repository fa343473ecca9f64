package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gosuda/auditchain/internal/domain"
)

type LitigationHoldRepo struct {
	db *sql.DB
}

const holdColumns = `org_id, active, activated_at, activated_by`

func (r *LitigationHoldRepo) Activate(ctx context.Context, orgID, activatedBy string, at time.Time) (*domain.LitigationHold, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO litigation_holds (`+holdColumns+`)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT (org_id) DO UPDATE
		 SET active = 1, activated_at = excluded.activated_at, activated_by = excluded.activated_by
		 RETURNING `+holdColumns,
		orgID, toMicros(at), activatedBy,
	)

	h, err := scanHold(row)
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Activate: %w", classify(err))
	}
	return h, nil
}

func (r *LitigationHoldRepo) Release(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE litigation_holds SET active = 0 WHERE org_id = ?
		 RETURNING `+holdColumns,
		orgID,
	)

	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("litigationHoldRepo.Release: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Release: %w", classify(err))
	}
	return h, nil
}

func (r *LitigationHoldRepo) Get(ctx context.Context, orgID string) (*domain.LitigationHold, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM litigation_holds WHERE org_id = ?`,
		orgID,
	)

	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("litigationHoldRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("litigationHoldRepo.Get: %w", classify(err))
	}
	return h, nil
}

func scanHold(row rowScanner) (*domain.LitigationHold, error) {
	var (
		h     domain.LitigationHold
		at    sql.NullInt64
		by    sql.NullString
		flags int64
	)
	if err := row.Scan(&h.OrgID, &flags, &at, &by); err != nil {
		return nil, err
	}
	h.Active = flags != 0
	if at.Valid {
		t := fromMicros(at.Int64)
		h.ActivatedAt = &t
	}
	h.ActivatedBy = fromNullString(by)
	return &h, nil
}
