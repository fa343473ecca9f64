package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/auditchain/internal/domain"
)

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RowLockGate serializes appends by locking the organization's row for the
// duration of a transaction. The read-last and insert run in that same
// transaction, so the section is released by commit or rollback and spans
// every process sharing the database.
//
// lockTimeout bounds the whole entry: waiting for a pooled connection and
// waiting for the row lock share one budget.
type RowLockGate struct {
	db          txBeginner
	lockTimeout time.Duration
}

func NewRowLockGate(pool *pgxpool.Pool, lockTimeout time.Duration) *RowLockGate {
	return &RowLockGate{db: pool, lockTimeout: lockTimeout}
}

func (g *RowLockGate) Do(ctx context.Context, orgID string, fn func(ctx context.Context, events domain.AuditEventRepository) error) error {
	start := time.Now()

	tx, err := g.begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres.RowLockGate.Do: begin: %w", classify(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if g.lockTimeout > 0 {
		remaining := g.lockTimeout - time.Since(start)
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(remaining)); err != nil {
			return fmt.Errorf("postgres.RowLockGate.Do: set lock_timeout: %w", classify(err))
		}
	}

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres.RowLockGate.Do: organization %q: %w", orgID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres.RowLockGate.Do: lock organization: %w", classify(err))
	}

	if err := fn(ctx, newTxAuditRepo(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres.RowLockGate.Do: commit: %w", classify(err))
	}

	return nil
}

// begin waits for a connection no longer than the lock timeout. Running out
// of that budget is a lock timeout; the caller's own cancellation is not.
func (g *RowLockGate) begin(ctx context.Context) (pgx.Tx, error) {
	if g.lockTimeout <= 0 {
		return g.db.Begin(ctx)
	}

	beginCtx, cancel := context.WithTimeout(ctx, g.lockTimeout)
	defer cancel()

	tx, err := g.db.Begin(beginCtx)
	if err != nil && ctx.Err() == nil && errors.Is(beginCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: waiting for a connection: %w", domain.ErrLockTimeout, err)
	}
	return tx, err
}

// lockTimeoutSetting renders d in whole milliseconds, at least 1.
func lockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10) + "ms"
}
