package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/store/memory"
)

func TestOrganizationRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().Organizations()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"org-c", "org-a", "org-b"} {
		require.NoError(t, repo.Create(ctx, &domain.Organization{ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	err := repo.Create(ctx, &domain.Organization{ID: "org-a"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.GetByID(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, "org-b", got.Name)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := repo.Exists(ctx, "org-c")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "org-c", list[0].ID)
	assert.Equal(t, "org-a", list[1].ID)

	list, err = repo.List(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "org-b", list[0].ID)

	list, err = repo.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func newEvent(orgID string, seq int64) *domain.AuditEvent {
	actor := "user-1"
	return &domain.AuditEvent{
		ID:        uuid.New(),
		OrgID:     orgID,
		Seq:       seq,
		EventType: "T",
		ActorID:   &actor,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now().UTC(),
		EventHash: "h",
	}
}

func TestAuditRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().Audit()

	_, err := repo.LastEvent(ctx, "org-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first := newEvent("org-1", 1)
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, newEvent("org-1", 2)))

	t.Run("seq gap rejected", func(t *testing.T) {
		assert.ErrorIs(t, repo.Append(ctx, newEvent("org-1", 4)), domain.ErrConflict)
	})

	t.Run("duplicate seq rejected", func(t *testing.T) {
		assert.ErrorIs(t, repo.Append(ctx, newEvent("org-1", 2)), domain.ErrConflict)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		dup := newEvent("org-2", 1)
		dup.ID = first.ID
		assert.ErrorIs(t, repo.Append(ctx, dup), domain.ErrConflict)
	})

	last, err := repo.LastEvent(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.Seq)

	list, err := repo.ListEvents(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	empty, err := repo.ListEvents(ctx, "org-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAuditRepo_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().Audit()

	e := newEvent("org-1", 1)
	require.NoError(t, repo.Append(ctx, e))

	e.Payload[0] = 'X'
	*e.ActorID = "mallory"

	list, err := repo.ListEvents(ctx, "org-1")
	require.NoError(t, err)
	list[0].EventHash = "changed"

	again, err := repo.ListEvents(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(again[0].Payload))
	assert.Equal(t, "user-1", *again[0].ActorID)
	assert.Equal(t, "h", again[0].EventHash)
}

func TestLitigationHoldRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().LitigationHolds()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Get(ctx, "org-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Release(ctx, "org-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h, err := repo.Activate(ctx, "org-1", "user-1", at)
	require.NoError(t, err)
	assert.True(t, h.Active)
	assert.Equal(t, at, *h.ActivatedAt)

	h, err = repo.Release(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, h.Active)
	assert.Equal(t, "user-1", *h.ActivatedBy)

	h, err = repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, h.Active)
}
