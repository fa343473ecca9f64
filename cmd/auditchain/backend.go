package main

import (
	"context"
	"fmt"
	"math"

	"github.com/avast/retry-go/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/store/memory"
	"github.com/gosuda/auditchain/internal/store/postgres"
	redisstore "github.com/gosuda/auditchain/internal/store/redis"
	"github.com/gosuda/auditchain/internal/store/sqlite"
)

type chainStore interface {
	Organizations() domain.OrganizationRepository
	Audit() domain.AuditEventRepository
	LitigationHolds() domain.LitigationHoldRepository
}

// backend is the storage side of the process: the chain store, the gate
// serializing appends on it and, when configured, Redis.
type backend struct {
	store   chainStore
	gate    domain.AppendGate
	pubsub  *redisstore.PubSub
	pings   []func(ctx context.Context) error
	closers []func()
}

func (b *backend) Ping(ctx context.Context) error {
	for _, ping := range b.pings {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// connect retries startup connections with exponential backoff. Appends
// themselves are never retried.
func connect(ctx context.Context, what string, fn func() error) error {
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
	).Do(func() error {
		err := fn()
		if err != nil {
			log.Warn().Err(err).Str("target", what).Msg("connect failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", what, err)
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}

	if cfg.Redis.Addr != "" {
		err := connect(ctx, "redis", func() error {
			ps, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			b.pubsub = ps
			return nil
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = b.pubsub.Close() })
		b.pings = append(b.pings, b.pubsub.Ping)
	}

	var rowLock domain.AppendGate

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			b.Close()
			return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}

		var st *postgres.Store
		err := connect(ctx, "postgres", func() error {
			var err error
			st, err = postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
			return err
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, st.Close)
		b.pings = append(b.pings, st.Ping)

		if err := st.Migrate(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.store = st
		rowLock = st.Gate(cfg.Audit.LockTimeout)

	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = st.Close() })
		b.pings = append(b.pings, st.Ping)
		b.store = st

	default:
		b.store = memory.New()
	}

	switch {
	case cfg.Store.Gate == config.GateRedis:
		b.gate = redisstore.NewLockGate(b.pubsub.Client(), b.store.Audit(), b.store.Organizations(), cfg.Audit.LockTimeout, cfg.Redis.LockTTL)
	case cfg.Store.Gate == config.GateAuto && rowLock != nil:
		b.gate = rowLock
	default:
		b.gate = audit.NewKeyedGate(b.store.Audit(), b.store.Organizations(), cfg.Audit.LockTimeout)
	}

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("gate", fmt.Sprintf("%T", b.gate)).
		Bool("redis", b.pubsub != nil).
		Msg("backend ready")

	return b, nil
}
