package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gosuda/auditchain/internal/domain"
)

type OrganizationRepo struct {
	db *sql.DB
}

func (r *OrganizationRepo) Create(ctx context.Context, o *domain.Organization) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		o.ID, o.Name, toMicros(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("organizationRepo.Create: %w", classify(err))
	}
	return nil
}

func (r *OrganizationRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	var (
		o       domain.Organization
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organizationRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("organizationRepo.GetByID: %w", classify(err))
	}
	o.CreatedAt = fromMicros(created)
	return &o, nil
}

func (r *OrganizationRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM organizations WHERE id = ?`, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("organizationRepo.Exists: %w", classify(err))
	}
	return n > 0, nil
}

func (r *OrganizationRepo) List(ctx context.Context, limit, offset int) ([]*domain.Organization, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM organizations
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("organizationRepo.List: %w", classify(err))
	}
	defer rows.Close()

	orgs := make([]*domain.Organization, 0)
	for rows.Next() {
		var (
			o       domain.Organization
			created int64
		)
		if err := rows.Scan(&o.ID, &o.Name, &created); err != nil {
			return nil, fmt.Errorf("organizationRepo.List: scan: %w", err)
		}
		o.CreatedAt = fromMicros(created)
		orgs = append(orgs, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("organizationRepo.List: rows: %w", classify(err))
	}
	return orgs, nil
}
