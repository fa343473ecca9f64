package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/domain"
)

const auditColumns = `id, org_id, seq, event_type, actor_id, entity_type, entity_id,
	event_payload, created_at, prev_event_hash, event_hash`

type AuditRepo struct {
	db *sql.DB
}

func (r *AuditRepo) LastEvent(ctx context.Context, orgID string) (*domain.AuditEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE org_id = ?
		 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		orgID,
	)

	e, err := scanAuditEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auditRepo.LastEvent: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("auditRepo.LastEvent: %w", classify(err))
	}
	return e, nil
}

func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (`+auditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.OrgID, e.Seq, e.EventType,
		toNullString(e.ActorID), toNullString(e.EntityType), toNullString(e.EntityID),
		string(e.Payload), toMicros(e.CreatedAt), toNullString(e.PrevEventHash), e.EventHash,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: %w", classify(err))
	}
	return nil
}

func (r *AuditRepo) ListEvents(ctx context.Context, orgID string) ([]*domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE org_id = ?
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(row rowScanner) (*domain.AuditEvent, error) {
	var (
		e                           domain.AuditEvent
		id, payload                 string
		created                     int64
		actor, entityType, entityID sql.NullString
		prev                        sql.NullString
	)
	if err := row.Scan(
		&id, &e.OrgID, &e.Seq, &e.EventType, &actor, &entityType, &entityID,
		&payload, &created, &prev, &e.EventHash,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	e.ID = parsed
	e.ActorID = fromNullString(actor)
	e.EntityType = fromNullString(entityType)
	e.EntityID = fromNullString(entityID)
	e.Payload = []byte(payload)
	e.CreatedAt = fromMicros(created)
	e.PrevEventHash = fromNullString(prev)
	return &e, nil
}
