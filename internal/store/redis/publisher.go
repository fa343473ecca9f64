package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
)

type publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// EventPublisher fans appended events out on the organization's channel.
// A circuit breaker stops a dead broker from adding latency to every append.
type EventPublisher struct {
	ps publisher
	cb *gobreaker.CircuitBreaker
}

func NewEventPublisher(ps publisher) *EventPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-publish",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &EventPublisher{ps: ps, cb: cb}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, e *domain.AuditEvent) error {
	body, err := json.Marshal(audit.NewRecord(e))
	if err != nil {
		return fmt.Errorf("redis.EventPublisher.PublishEvent: marshal: %w", err)
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.ps.Publish(ctx, AuditChannel(e.OrgID), body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("redis.EventPublisher.PublishEvent: %w: %w", domain.ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("redis.EventPublisher.PublishEvent: %w", err)
	}

	return nil
}
