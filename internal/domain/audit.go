package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one immutable link of an organization's audit chain.
// Optional fields are nil when absent; absence and the empty string hash
// identically but are stored distinctly.
type AuditEvent struct {
	ID            uuid.UUID
	OrgID         string
	Seq           int64
	EventType     string
	ActorID       *string
	EntityType    *string
	EntityID      *string
	Payload       json.RawMessage // canonical form
	CreatedAt     time.Time
	PrevEventHash *string
	EventHash     string
}

// ChainVerification is the outcome of replaying an organization's chain.
// An invalid chain is a normal result, not an error.
type ChainVerification struct {
	OrgID               string
	Valid               bool
	FirstInvalidEventID *uuid.UUID
	Reason              string
	EventCount          int
	HeadHash            *string
	VerifiedAt          time.Time
}

// Verification failure reasons.
const (
	ReasonHashMismatch       = "hash_mismatch"
	ReasonPrevHashMismatch   = "prev_hash_mismatch"
	ReasonPayloadUndecodable = "payload_undecodable"
)

// AuditEventRepository persists audit events. It exposes no update or delete.
type AuditEventRepository interface {
	// LastEvent returns ErrNotFound when the organization has no events yet.
	LastEvent(ctx context.Context, orgID string) (*AuditEvent, error)
	Append(ctx context.Context, e *AuditEvent) error
	// ListEvents returns the chain ordered by created_at, then seq.
	ListEvents(ctx context.Context, orgID string) ([]*AuditEvent, error)
}

// AppendGate serializes chain extension per organization. fn runs while the
// organization's exclusive section is held and must use the repository it is
// given for the read-last/append pair. The section is released when Do returns.
type AppendGate interface {
	Do(ctx context.Context, orgID string, fn func(ctx context.Context, events AuditEventRepository) error) error
}

// EventPublisher receives events after they have been durably persisted.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *AuditEvent) error
}
