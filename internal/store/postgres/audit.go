package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/auditchain/internal/domain"
)

const auditColumns = `id, org_id, seq, event_type, actor_id, entity_type, entity_id,
	event_payload, created_at, prev_event_hash, event_hash`

// AuditRepo reads and appends audit events. There is deliberately no update
// or delete method.
type AuditRepo struct {
	db querier
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{db: pool}
}

// newTxAuditRepo binds the repository to a gate transaction.
func newTxAuditRepo(tx pgx.Tx) *AuditRepo {
	return &AuditRepo{db: tx}
}

func (r *AuditRepo) LastEvent(ctx context.Context, orgID string) (*domain.AuditEvent, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+auditColumns+`
		 FROM audit_events WHERE org_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT 1`,
		orgID,
	)

	e, err := scanAuditEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auditRepo.LastEvent: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("auditRepo.LastEvent: %w", classify(err))
	}

	return e, nil
}

func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_events (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.OrgID, e.Seq, e.EventType, e.ActorID, e.EntityType, e.EntityID,
		string(e.Payload), e.CreatedAt, e.PrevEventHash, e.EventHash,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: %w", classify(err))
	}

	return nil
}

func (r *AuditRepo) ListEvents(ctx context.Context, orgID string) ([]*domain.AuditEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+auditColumns+`
		 FROM audit_events WHERE org_id = $1
		 ORDER BY created_at, seq`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListEvents: %w", classify(err))
	}
	defer rows.Close()

	events := make([]*domain.AuditEvent, 0)
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("auditRepo.ListEvents: scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditRepo.ListEvents: rows: %w", classify(err))
	}

	return events, nil
}

func scanAuditEvent(row pgx.Row) (*domain.AuditEvent, error) {
	var (
		e       domain.AuditEvent
		payload string
	)
	if err := row.Scan(
		&e.ID, &e.OrgID, &e.Seq, &e.EventType, &e.ActorID, &e.EntityType, &e.EntityID,
		&payload, &e.CreatedAt, &e.PrevEventHash, &e.EventHash,
	); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
