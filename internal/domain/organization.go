package domain

import (
	"context"
	"time"
)

// Organization is the owner of an audit chain. Its presence in the registry
// is what allows the append gate to be acquired.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type OrganizationRepository interface {
	Create(ctx context.Context, o *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Organization, error)
}
