package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/metrics"
)

// buildChain appends n events for org-1 and returns copies of the stored chain.
func buildChain(t *testing.T, n int) []*domain.AuditEvent {
	t.Helper()

	st := newStore(t, "org-1")
	svc := newService(t, st)
	for i := range n {
		_, err := svc.Append(context.Background(), audit.AppendInput{
			EventType:  "SCAN_COMPLETED",
			ActorID:    strPtr("user-1"),
			OrgID:      "org-1",
			EntityType: strPtr("scan"),
			EntityID:   strPtr("s1"),
			Payload:    map[string]any{"i": i, "score": 42},
		})
		require.NoError(t, err)
	}

	events, err := st.Audit().ListEvents(context.Background(), "org-1")
	require.NoError(t, err)
	return events
}

func TestReplay_EmptyChain(t *testing.T) {
	t.Parallel()

	res := audit.Replay("org-1", nil)
	assert.True(t, res.Valid)
	assert.Equal(t, 0, res.EventCount)
	assert.Nil(t, res.HeadHash)
	assert.Nil(t, res.FirstInvalidEventID)
}

func TestReplay_Tampering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tamper     func(events []*domain.AuditEvent) []*domain.AuditEvent
		wantIndex  int
		wantReason string
	}{
		{
			name: "payload edited",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[2].Payload = []byte(`{"i":2,"score":99}`)
				return events
			},
			wantIndex:  2,
			wantReason: domain.ReasonHashMismatch,
		},
		{
			name: "actor edited",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[1].ActorID = strPtr("mallory")
				return events
			},
			wantIndex:  1,
			wantReason: domain.ReasonHashMismatch,
		},
		{
			name: "timestamp edited",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[3].CreatedAt = events[3].CreatedAt.Add(time.Microsecond)
				return events
			},
			wantIndex:  3,
			wantReason: domain.ReasonHashMismatch,
		},
		{
			name: "stored hash edited",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[4].EventHash = "0000000000000000000000000000000000000000000000000000000000000000"
				return events
			},
			wantIndex:  4,
			wantReason: domain.ReasonHashMismatch,
		},
		{
			name: "middle event deleted",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				return append(events[:2:2], events[3:]...)
			},
			wantIndex:  3,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "first event deleted",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				return events[1:]
			},
			wantIndex:  1,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "events reordered",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[1], events[2] = events[2], events[1]
				return events
			},
			wantIndex:  2,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "prev link forged",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[2].PrevEventHash = strPtr("forged")
				return events
			},
			wantIndex:  2,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "genesis link set to empty string",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[0].PrevEventHash = strPtr("")
				events[0].EventHash = audit.HashEvent(events[0], events[0].PrevEventHash)
				return events
			},
			wantIndex:  0,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "interior link cleared",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[2].PrevEventHash = nil
				return events
			},
			wantIndex:  2,
			wantReason: domain.ReasonPrevHashMismatch,
		},
		{
			name: "payload undecodable",
			tamper: func(events []*domain.AuditEvent) []*domain.AuditEvent {
				events[1].Payload = []byte(`{not json`)
				return events
			},
			wantIndex:  1,
			wantReason: domain.ReasonPayloadUndecodable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			events := buildChain(t, 5)
			wantID := events[tc.wantIndex].ID

			res := audit.Replay("org-1", tc.tamper(events))
			assert.False(t, res.Valid)
			require.NotNil(t, res.FirstInvalidEventID)
			assert.Equal(t, wantID, *res.FirstInvalidEventID)
			assert.Equal(t, tc.wantReason, res.Reason)
			assert.Nil(t, res.HeadHash)
		})
	}
}

func TestReplay_ForgedChainWithRecomputedHashes(t *testing.T) {
	t.Parallel()

	events := buildChain(t, 3)

	// Rewriting an event and recomputing its own hash still breaks the link
	// held by its successor.
	events[1].Payload = []byte(`{"i":1,"score":0}`)
	events[1].EventHash = audit.HashEvent(events[1], events[1].PrevEventHash)

	res := audit.Replay("org-1", events)
	assert.False(t, res.Valid)
	require.NotNil(t, res.FirstInvalidEventID)
	assert.Equal(t, events[2].ID, *res.FirstInvalidEventID)
	assert.Equal(t, domain.ReasonPrevHashMismatch, res.Reason)
}

func TestReplay_NonCanonicalButEqualPayloadStaysValid(t *testing.T) {
	t.Parallel()

	events := buildChain(t, 2)
	events[0].Payload = []byte("{ \"score\" : 42 ,\n \"i\" : 0 }")

	res := audit.Replay("org-1", events)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.EventCount)
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	st := newStore(t, "org-1", "org-2")
	svc := newService(t, st)
	for range 3 {
		_, err := svc.Append(context.Background(), audit.AppendInput{EventType: "T", OrgID: "org-1"})
		require.NoError(t, err)
	}

	m := metrics.New(nil)
	verifiedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := audit.NewVerifier(st.Audit(), audit.WithVerifierMetrics(m), audit.WithVerifierClock(func() time.Time { return verifiedAt }))

	res, err := v.Verify(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "org-1", res.OrgID)
	assert.Equal(t, 3, res.EventCount)
	assert.Equal(t, verifiedAt, res.VerifiedAt)
	require.NotNil(t, res.HeadHash)

	empty, err := v.Verify(context.Background(), "org-2")
	require.NoError(t, err)
	assert.True(t, empty.Valid)
	assert.Equal(t, 0, empty.EventCount)

	assert.InDelta(t, 2, testutil.ToFloat64(m.VerifyTotal.WithLabelValues("valid")), 0)
}

type listErrRepo struct {
	domain.AuditEventRepository
}

func (listErrRepo) ListEvents(context.Context, string) ([]*domain.AuditEvent, error) {
	return nil, errors.New("connection reset")
}

func TestVerifier_StoreError(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)
	v := audit.NewVerifier(listErrRepo{}, audit.WithVerifierMetrics(m))

	res, err := v.Verify(context.Background(), "org-1")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.InDelta(t, 1, testutil.ToFloat64(m.VerifyTotal.WithLabelValues("error")), 0)
}

type staticRepo struct {
	domain.AuditEventRepository
	events []*domain.AuditEvent
}

func (r staticRepo) ListEvents(context.Context, string) ([]*domain.AuditEvent, error) {
	return r.events, nil
}

func TestVerifier_InvalidChainIsNotAnError(t *testing.T) {
	t.Parallel()

	events := buildChain(t, 2)
	events[0].EventType = "EDITED"

	m := metrics.New(nil)
	v := audit.NewVerifier(staticRepo{events: events}, audit.WithVerifierMetrics(m))

	res, err := v.Verify(context.Background(), "org-1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonHashMismatch, res.Reason)
	assert.InDelta(t, 1, testutil.ToFloat64(m.VerifyTotal.WithLabelValues("invalid")), 0)
}
