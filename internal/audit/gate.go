package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gosuda/auditchain/internal/domain"
)

type orgSection struct {
	sem  chan struct{}
	refs int
}

// KeyedGate is an in-process AppendGate: one single-slot semaphore per
// organization, created on demand and dropped once no caller references it.
// It is only correct when every writer of the store lives in this process.
type KeyedGate struct {
	events  domain.AuditEventRepository
	orgs    domain.OrganizationRepository
	timeout time.Duration

	mu       sync.Mutex
	sections map[string]*orgSection
}

// NewKeyedGate returns a gate over events that refuses organizations missing
// from orgs. A zero timeout waits until ctx is done.
func NewKeyedGate(events domain.AuditEventRepository, orgs domain.OrganizationRepository, timeout time.Duration) *KeyedGate {
	return &KeyedGate{
		events:   events,
		orgs:     orgs,
		timeout:  timeout,
		sections: make(map[string]*orgSection),
	}
}

func (g *KeyedGate) Do(ctx context.Context, orgID string, fn func(ctx context.Context, events domain.AuditEventRepository) error) error {
	ok, err := g.orgs.Exists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("audit.KeyedGate.Do: %w", err)
	}
	if !ok {
		return fmt.Errorf("audit.KeyedGate.Do: organization %q: %w", orgID, domain.ErrNotFound)
	}

	s := g.ref(orgID)
	defer g.unref(orgID, s)

	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	select {
	case s.sem <- struct{}{}:
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("audit.KeyedGate.Do: %w", err)
		}
		return fmt.Errorf("audit.KeyedGate.Do: organization %q: %w", orgID, domain.ErrLockTimeout)
	}
	defer func() { <-s.sem }()

	return fn(ctx, g.events)
}

func (g *KeyedGate) ref(orgID string) *orgSection {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sections[orgID]
	if !ok {
		s = &orgSection{sem: make(chan struct{}, 1)}
		g.sections[orgID] = s
	}
	s.refs++
	return s
}

func (g *KeyedGate) unref(orgID string, s *orgSection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(g.sections, orgID)
	}
}

// size reports how many organizations currently have a live section.
func (g *KeyedGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sections)
}
