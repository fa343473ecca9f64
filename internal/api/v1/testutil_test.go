package v1_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/export"
	"github.com/gosuda/auditchain/internal/server/middleware"
	"github.com/gosuda/auditchain/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Context helpers: inject org/actor/role into context for DoCtx.
// ---------------------------------------------------------------------------

func callerCtx(orgID, actorID, role string) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyOrgID, orgID)
	ctx = context.WithValue(ctx, middleware.ContextKeyActorID, actorID)
	ctx = context.WithValue(ctx, middleware.ContextKeyRole, role)
	return ctx
}

func memberCtx(orgID string) context.Context {
	return callerCtx(orgID, "user-1", middleware.RoleMember)
}

func viewerCtx(orgID string) context.Context {
	return callerCtx(orgID, "auditor-1", middleware.RoleViewer)
}

func adminCtx() context.Context {
	return callerCtx("", "ops-1", middleware.RoleAdmin)
}

// ---------------------------------------------------------------------------
// In-memory fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store    *memory.Store
	service  *audit.Service
	verifier *audit.Verifier
	holds    *audit.HoldRegistry
}

func newFixture(t *testing.T, orgIDs ...string) *fixture {
	t.Helper()

	st := memory.New()
	for _, id := range orgIDs {
		require.NoError(t, st.Organizations().Create(context.Background(), &domain.Organization{
			ID:        id,
			Name:      id,
			CreatedAt: time.Now().UTC(),
		}))
	}

	gate := audit.NewKeyedGate(st.Audit(), st.Organizations(), time.Second)
	return &fixture{
		store:    st,
		service:  audit.NewService(gate, st.Audit()),
		verifier: audit.NewVerifier(st.Audit()),
		holds:    audit.NewHoldRegistry(st.LitigationHolds()),
	}
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockDataStore struct {
	orgs domain.OrganizationRepository
}

func (m *mockDataStore) Organizations() domain.OrganizationRepository { return m.orgs }

type mockOrgRepo struct {
	createFunc  func(ctx context.Context, o *domain.Organization) error
	getByIDFunc func(ctx context.Context, id string) (*domain.Organization, error)
	existsFunc  func(ctx context.Context, id string) (bool, error)
	listFunc    func(ctx context.Context, limit, offset int) ([]*domain.Organization, error)
}

func (m *mockOrgRepo) Create(ctx context.Context, o *domain.Organization) error {
	return m.createFunc(ctx, o)
}

func (m *mockOrgRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrgRepo) Exists(ctx context.Context, id string) (bool, error) {
	return m.existsFunc(ctx, id)
}

func (m *mockOrgRepo) List(ctx context.Context, limit, offset int) ([]*domain.Organization, error) {
	return m.listFunc(ctx, limit, offset)
}

type mockAuditLog struct {
	appendFunc func(ctx context.Context, in audit.AppendInput) (*domain.AuditEvent, error)
	listFunc   func(ctx context.Context, orgID string) ([]*domain.AuditEvent, error)
}

func (m *mockAuditLog) Append(ctx context.Context, in audit.AppendInput) (*domain.AuditEvent, error) {
	return m.appendFunc(ctx, in)
}

func (m *mockAuditLog) List(ctx context.Context, orgID string) ([]*domain.AuditEvent, error) {
	return m.listFunc(ctx, orgID)
}

type mockVerifier struct {
	verifyFunc func(ctx context.Context, orgID string) (*domain.ChainVerification, error)
}

func (m *mockVerifier) Verify(ctx context.Context, orgID string) (*domain.ChainVerification, error) {
	return m.verifyFunc(ctx, orgID)
}

type mockExporter struct {
	exportFunc func(ctx context.Context, orgID, scope string) (*export.Result, error)
}

func (m *mockExporter) Export(ctx context.Context, orgID, scope string) (*export.Result, error) {
	return m.exportFunc(ctx, orgID, scope)
}
