package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/auditchain/internal/domain"
)

type OrganizationRepo struct {
	pool *pgxpool.Pool
}

func NewOrganizationRepo(pool *pgxpool.Pool) *OrganizationRepo {
	return &OrganizationRepo{pool: pool}
}

func (r *OrganizationRepo) Create(ctx context.Context, o *domain.Organization) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, created_at)
		 VALUES ($1, $2, $3)`,
		o.ID, o.Name, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("organizationRepo.Create: %w", classify(err))
	}

	return nil
}

func (r *OrganizationRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	var o domain.Organization

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at
		 FROM organizations WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organizationRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("organizationRepo.GetByID: %w", classify(err))
	}

	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func (r *OrganizationRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool

	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`,
		id,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("organizationRepo.Exists: %w", classify(err))
	}

	return ok, nil
}

func (r *OrganizationRepo) List(ctx context.Context, limit, offset int) ([]*domain.Organization, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, created_at
		 FROM organizations
		 ORDER BY created_at, id
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("organizationRepo.List: %w", classify(err))
	}
	defer rows.Close()

	var orgs []*domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("organizationRepo.List: scan: %w", err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		orgs = append(orgs, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("organizationRepo.List: rows: %w", classify(err))
	}

	return orgs, nil
}
