package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gosuda/auditchain/internal/domain"
)

// TimestampLayout renders created_at for hashing and for the wire: UTC,
// fixed microseconds, explicit offset.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ComputeHash returns the hex SHA-256 of the event's chained content:
// prevHash, eventType, actorID, entityType, entityID, the canonical payload
// and the rendered timestamp, concatenated in that order with absent values
// contributing nothing.
func ComputeHash(prevHash *string, eventType string, actorID, entityType, entityID *string, canonicalPayload []byte, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(deref(prevHash)))
	h.Write([]byte(eventType))
	h.Write([]byte(deref(actorID)))
	h.Write([]byte(deref(entityType)))
	h.Write([]byte(deref(entityID)))
	h.Write(canonicalPayload)
	h.Write([]byte(FormatTimestamp(createdAt)))
	return hex.EncodeToString(h.Sum(nil))
}

// HashEvent computes the hash of e as the successor of prevHash. Both the
// append path and the verifier go through here.
func HashEvent(e *domain.AuditEvent, prevHash *string) string {
	return ComputeHash(prevHash, e.EventType, e.ActorID, e.EntityType, e.EntityID, e.Payload, e.CreatedAt)
}

// NextTimestamp truncates now to microseconds (the precision every store
// keeps) and guarantees it is strictly after the predecessor's created_at.
func NextTimestamp(last *domain.AuditEvent, now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if last == nil {
		return ts
	}
	if ts.After(last.CreatedAt) {
		return ts
	}
	return last.CreatedAt.UTC().Add(time.Microsecond)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
