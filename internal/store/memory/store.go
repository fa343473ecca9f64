// Package memory is a process-local store used by the development backend
// and by tests. It shares nothing across processes, so it must be paired with
// an in-process gate.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/domain"
)

type Store struct {
	orgs   *OrganizationRepo
	events *AuditRepo
	holds  *LitigationHoldRepo
}

func New() *Store {
	return &Store{
		orgs:   &OrganizationRepo{orgs: make(map[string]domain.Organization)},
		events: &AuditRepo{chains: make(map[string][]domain.AuditEvent), ids: make(map[uuid.UUID]struct{})},
		holds:  &LitigationHoldRepo{holds: make(map[string]domain.LitigationHold)},
	}
}

func (s *Store) Organizations() domain.OrganizationRepository     { return s.orgs }
func (s *Store) Audit() domain.AuditEventRepository               { return s.events }
func (s *Store) LitigationHolds() domain.LitigationHoldRepository { return s.holds }

// OrganizationRepo

type OrganizationRepo struct {
	mu   sync.RWMutex
	orgs map[string]domain.Organization
}

func (r *OrganizationRepo) Create(_ context.Context, o *domain.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[o.ID]; ok {
		return fmt.Errorf("memory.OrganizationRepo.Create: %w", domain.ErrConflict)
	}
	r.orgs[o.ID] = *o
	return nil
}

func (r *OrganizationRepo) GetByID(_ context.Context, id string) (*domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orgs[id]
	if !ok {
		return nil, fmt.Errorf("memory.OrganizationRepo.GetByID: %w", domain.ErrNotFound)
	}
	return &o, nil
}

func (r *OrganizationRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.orgs[id]
	return ok, nil
}

func (r *OrganizationRepo) List(_ context.Context, limit, offset int) ([]*domain.Organization, error) {
	r.mu.RLock()
	all := make([]*domain.Organization, 0, len(r.orgs))
	for _, o := range r.orgs {
		o := o
		all = append(all, &o)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*domain.Organization{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// AuditRepo keeps each chain as an append-only slice. Append enforces the
// same (org_id, seq) uniqueness the SQL stores get from their constraints.
type AuditRepo struct {
	mu     sync.RWMutex
	chains map[string][]domain.AuditEvent
	ids    map[uuid.UUID]struct{}
}

func (r *AuditRepo) LastEvent(_ context.Context, orgID string) (*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[orgID]
	if len(chain) == 0 {
		return nil, fmt.Errorf("memory.AuditRepo.LastEvent: %w", domain.ErrNotFound)
	}
	e := copyEvent(chain[len(chain)-1])
	return &e, nil
}

func (r *AuditRepo) Append(_ context.Context, e *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[e.ID]; dup {
		return fmt.Errorf("memory.AuditRepo.Append: duplicate id: %w", domain.ErrConflict)
	}
	chain := r.chains[e.OrgID]
	if e.Seq != int64(len(chain))+1 {
		return fmt.Errorf("memory.AuditRepo.Append: seq %d after %d: %w", e.Seq, len(chain), domain.ErrConflict)
	}

	r.chains[e.OrgID] = append(chain, copyEvent(*e))
	r.ids[e.ID] = struct{}{}
	return nil
}

func (r *AuditRepo) ListEvents(_ context.Context, orgID string) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[orgID]
	out := make([]*domain.AuditEvent, 0, len(chain))
	for _, e := range chain {
		c := copyEvent(e)
		out = append(out, &c)
	}
	return out, nil
}

func copyEvent(e domain.AuditEvent) domain.AuditEvent {
	e.Payload = append([]byte(nil), e.Payload...)
	e.ActorID = copyString(e.ActorID)
	e.EntityType = copyString(e.EntityType)
	e.EntityID = copyString(e.EntityID)
	e.PrevEventHash = copyString(e.PrevEventHash)
	return e
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// LitigationHoldRepo

type LitigationHoldRepo struct {
	mu    sync.Mutex
	holds map[string]domain.LitigationHold
}

func (r *LitigationHoldRepo) Activate(_ context.Context, orgID, activatedBy string, at time.Time) (*domain.LitigationHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := domain.LitigationHold{
		OrgID:       orgID,
		Active:      true,
		ActivatedAt: &at,
		ActivatedBy: &activatedBy,
	}
	r.holds[orgID] = h
	return &h, nil
}

func (r *LitigationHoldRepo) Release(_ context.Context, orgID string) (*domain.LitigationHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.holds[orgID]
	if !ok {
		return nil, fmt.Errorf("memory.LitigationHoldRepo.Release: %w", domain.ErrNotFound)
	}
	h.Active = false
	r.holds[orgID] = h
	return &h, nil
}

func (r *LitigationHoldRepo) Get(_ context.Context, orgID string) (*domain.LitigationHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.holds[orgID]
	if !ok {
		return nil, fmt.Errorf("memory.LitigationHoldRepo.Get: %w", domain.ErrNotFound)
	}
	return &h, nil
}
