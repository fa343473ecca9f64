package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/domain"
)

// releaseScript deletes the lock only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockGate is an AppendGate for several processes sharing one store. Each
// organization gets a lease key; fn runs under a context that ends before
// the lease does, so a stalled writer cannot outlive its lock.
type LockGate struct {
	client  redis.Cmdable
	events  domain.AuditEventRepository
	orgs    domain.OrganizationRepository
	timeout time.Duration
	ttl     time.Duration
	poll    time.Duration
}

// NewLockGate returns a gate whose waits are bounded by timeout (zero waits
// until ctx is done) and whose leases expire after ttl.
func NewLockGate(client redis.Cmdable, events domain.AuditEventRepository, orgs domain.OrganizationRepository, timeout, ttl time.Duration) *LockGate {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LockGate{
		client:  client,
		events:  events,
		orgs:    orgs,
		timeout: timeout,
		ttl:     ttl,
		poll:    10 * time.Millisecond,
	}
}

func (g *LockGate) Do(ctx context.Context, orgID string, fn func(ctx context.Context, events domain.AuditEventRepository) error) error {
	ok, err := g.orgs.Exists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("redis.LockGate.Do: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis.LockGate.Do: organization %q: %w", orgID, domain.ErrNotFound)
	}

	key := LockKey(orgID)
	token := uuid.NewString()

	if err := g.acquire(ctx, key, token); err != nil {
		return fmt.Errorf("redis.LockGate.Do: organization %q: %w", orgID, err)
	}
	defer g.release(ctx, key, token)

	fnCtx, cancel := context.WithTimeout(ctx, g.ttl)
	defer cancel()

	return fn(fnCtx, g.events)
}

func (g *LockGate) acquire(ctx context.Context, key, token string) error {
	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		acquired, err := g.client.SetNX(waitCtx, key, token, g.ttl).Result()
		if err == nil && acquired {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}

		select {
		case <-waitCtx.Done():
		case <-ticker.C:
			continue
		}

		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.ErrLockTimeout
	}
}

func (g *LockGate) release(ctx context.Context, key, token string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := g.client.Eval(relCtx, releaseScript, []string{key}, token).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis: lock release failed, lease will expire")
	}
}
