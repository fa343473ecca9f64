package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/metrics"
)

// AppendInput is what a collaborator supplies for a new audit event. Payload
// may be any JSON-representable value, including a json.RawMessage.
type AppendInput struct {
	EventType  string
	ActorID    *string
	OrgID      string
	EntityType *string
	EntityID   *string
	Payload    any
}

// Service appends events to per-organization hash chains.
type Service struct {
	gate         domain.AppendGate
	events       domain.AuditEventRepository
	publisher    domain.EventPublisher
	metrics      *metrics.Metrics
	now          func() time.Time
	storeTimeout time.Duration
}

type Option func(*Service)

// WithPublisher hands every persisted event to p. Publish failures are logged
// and never fail the append.
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStoreTimeout bounds the read-last and append calls made while the
// organization's section is held.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.storeTimeout = d }
}

// NewService creates a Service. events is used for reads outside the gate.
func NewService(gate domain.AppendGate, events domain.AuditEventRepository, opts ...Option) *Service {
	s := &Service{
		gate:   gate,
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Append extends the organization's chain with a new event and returns it
// once it is durably stored. Input errors wrap domain.ErrInvalidInput and are
// reported before the gate is touched. An unknown organization wraps
// domain.ErrNotFound. Every other failure wraps domain.ErrWriteFailed plus
// its kind. Append never retries.
func (s *Service) Append(ctx context.Context, in AppendInput) (*domain.AuditEvent, error) {
	start := time.Now()

	e, err := s.append(ctx, in)
	s.metrics.AppendTotal.WithLabelValues(resultLabel(err)).Inc()
	s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Str("org_id", in.OrgID).Str("event_type", in.EventType).Msg("audit: append failed")
		return nil, err
	}

	log.Debug().
		Str("org_id", e.OrgID).
		Str("event_id", e.ID.String()).
		Int64("seq", e.Seq).
		Str("event_type", e.EventType).
		Msg("audit: event appended")

	s.publish(ctx, e)
	return e, nil
}

func (s *Service) append(ctx context.Context, in AppendInput) (*domain.AuditEvent, error) {
	if err := validateInput(in); err != nil {
		return nil, fmt.Errorf("audit.Service.Append: %w", err)
	}

	payload, err := Canonicalize(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("audit.Service.Append: %w", err)
	}

	requested := time.Now()
	var stored *domain.AuditEvent

	err = s.gate.Do(ctx, in.OrgID, func(ctx context.Context, events domain.AuditEventRepository) error {
		s.metrics.GateWait.Observe(time.Since(requested).Seconds())

		storeCtx, cancel := s.storeContext(ctx)
		defer cancel()

		last, err := events.LastEvent(storeCtx, in.OrgID)
		if errors.Is(err, domain.ErrNotFound) {
			last = nil
		} else if err != nil {
			return err
		}

		e := &domain.AuditEvent{
			ID:         uuid.New(),
			OrgID:      in.OrgID,
			Seq:        1,
			EventType:  in.EventType,
			ActorID:    cloneString(in.ActorID),
			EntityType: cloneString(in.EntityType),
			EntityID:   cloneString(in.EntityID),
			Payload:    payload,
			CreatedAt:  NextTimestamp(last, s.now()),
		}
		if last != nil {
			prev := last.EventHash
			e.PrevEventHash = &prev
			e.Seq = last.Seq + 1
		}
		e.EventHash = HashEvent(e, e.PrevEventHash)

		if err := events.Append(storeCtx, e); err != nil {
			return err
		}
		stored = e
		return nil
	})
	if err != nil {
		return nil, writeError(err)
	}

	return stored, nil
}

// List returns the organization's chain in order. It takes no lock.
func (s *Service) List(ctx context.Context, orgID string) ([]*domain.AuditEvent, error) {
	events, err := s.events.ListEvents(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("audit.Service.List: %w", err)
	}
	return events, nil
}

func (s *Service) publish(ctx context.Context, e *domain.AuditEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, e); err != nil {
		s.metrics.PublishFailures.Inc()
		log.Warn().Err(err).Str("org_id", e.OrgID).Str("event_id", e.ID.String()).Msg("audit: publish failed")
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// writeError keeps a missing organization distinct and turns everything else
// into a write failure that still carries its kind.
func writeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("audit.Service.Append: %w", err)
	case errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("audit.Service.Append: %w: %w", domain.ErrWriteFailed, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("audit.Service.Append: %w: %w: %w", domain.ErrWriteFailed, domain.ErrUnavailable, err)
	default:
		return fmt.Errorf("audit.Service.Append: %w: %w", domain.ErrWriteFailed, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func validateInput(in AppendInput) error {
	if strings.TrimSpace(in.OrgID) == "" {
		return fmt.Errorf("%w: org id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.EventType) == "" {
		return fmt.Errorf("%w: event type is required", domain.ErrInvalidInput)
	}

	fields := []struct {
		name  string
		value string
	}{
		{"org id", in.OrgID},
		{"event type", in.EventType},
		{"actor id", deref(in.ActorID)},
		{"entity type", deref(in.EntityType)},
		{"entity id", deref(in.EntityID)},
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) || strings.ContainsRune(f.value, 0) {
			return fmt.Errorf("%w: %s must be valid UTF-8 without NUL", domain.ErrInvalidInput, f.name)
		}
	}

	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
