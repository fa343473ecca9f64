package audit

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/domain"
)

// Record is the wire form of an event shared by exports and the live feed.
// CreatedAt carries the exact string that was hashed, so a record set is
// enough to re-verify a chain without access to the store.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	OrgID         string          `json:"org_id"`
	Seq           int64           `json:"seq"`
	EventType     string          `json:"event_type"`
	ActorID       *string         `json:"actor_id"`
	EntityType    *string         `json:"entity_type"`
	EntityID      *string         `json:"entity_id"`
	EventPayload  json.RawMessage `json:"event_payload"`
	CreatedAt     string          `json:"created_at"`
	PrevEventHash *string         `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
}

func NewRecord(e *domain.AuditEvent) Record {
	return Record{
		ID:            e.ID,
		OrgID:         e.OrgID,
		Seq:           e.Seq,
		EventType:     e.EventType,
		ActorID:       e.ActorID,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		EventPayload:  e.Payload,
		CreatedAt:     FormatTimestamp(e.CreatedAt),
		PrevEventHash: e.PrevEventHash,
		EventHash:     e.EventHash,
	}
}

func NewRecords(events []*domain.AuditEvent) []Record {
	out := make([]Record, 0, len(events))
	for _, e := range events {
		out = append(out, NewRecord(e))
	}
	return out
}

// Event converts the record back into a domain event.
func (r Record) Event() (*domain.AuditEvent, error) {
	createdAt, err := ParseTimestamp(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit.Record.Event: %w: created_at: %w", domain.ErrInvalidInput, err)
	}

	return &domain.AuditEvent{
		ID:            r.ID,
		OrgID:         r.OrgID,
		Seq:           r.Seq,
		EventType:     r.EventType,
		ActorID:       r.ActorID,
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Payload:       append(json.RawMessage(nil), r.EventPayload...),
		CreatedAt:     createdAt,
		PrevEventHash: r.PrevEventHash,
		EventHash:     r.EventHash,
	}, nil
}

// Verification is the wire form of a chain verification result.
type Verification struct {
	OrgID               string     `json:"org_id"`
	Valid               bool       `json:"valid"`
	FirstInvalidEventID *uuid.UUID `json:"first_invalid_event_id"`
	Reason              string     `json:"reason,omitempty"`
	EventCount          int        `json:"event_count"`
	HeadHash            *string    `json:"head_hash"`
	VerifiedAt          string     `json:"verified_at"`
}

func NewVerification(v *domain.ChainVerification) Verification {
	return Verification{
		OrgID:               v.OrgID,
		Valid:               v.Valid,
		FirstInvalidEventID: v.FirstInvalidEventID,
		Reason:              v.Reason,
		EventCount:          v.EventCount,
		HeadHash:            v.HeadHash,
		VerifiedAt:          FormatTimestamp(v.VerifiedAt),
	}
}
