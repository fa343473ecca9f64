package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/export"
	"github.com/gosuda/auditchain/internal/metrics"
	"github.com/gosuda/auditchain/internal/server"
	"github.com/gosuda/auditchain/internal/store/memory"
)

const testSecret = "test-secret-that-is-at-least-32ch"

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: testSecret, Issuer: "auditchain", TTL: time.Hour},
		Server: config.ServerConfig{
			Addr:           ":0",
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
	}
}

func newTestServer(t *testing.T, health func(context.Context) error) (*httptest.Server, *memory.Store) {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), health)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, health func(context.Context) error) (*httptest.Server, *memory.Store) {
	t.Helper()

	st := memory.New()
	require.NoError(t, st.Organizations().Create(context.Background(), &domain.Organization{
		ID: "acme", Name: "Acme", CreatedAt: time.Now().UTC(),
	}))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gate := audit.NewKeyedGate(st.Audit(), st.Organizations(), time.Second)

	s := server.New(t.Context(), cfg, server.Deps{
		Store:    st,
		Log:      audit.NewService(gate, st.Audit(), audit.WithMetrics(m)),
		Verifier: audit.NewVerifier(st.Audit(), audit.WithVerifierMetrics(m)),
		Holds:    audit.NewHoldRegistry(st.LitigationHolds()),
		Exporter: export.NewPackager(st.Audit(), t.TempDir(), "test"),
		Gatherer: reg,
		Health:   health,
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func token(t *testing.T, orgID, actorID, role string) string {
	t.Helper()

	tok, err := auth.IssueToken(testSecret, "auditchain", orgID, actorID, role, time.Minute)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, tok, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, func(context.Context) error { return nil })
		resp := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("store down", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
		resp := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("limited per client address", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Server.RateLimitRPS = 0.001
		cfg.Server.RateLimitBurst = 1
		srv, _ := newTestServerWithConfig(t, cfg, nil)

		resp := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(t, http.MethodGet, srv.URL+"/healthz", "", "")
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})
}

func TestAPI_RequiresAuth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/orgs/acme/verify", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A member token without an org is refused before any handler runs.
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/orgs/acme/verify", token(t, "", "user-1", "member"), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A correctly signed token with a role outside the known set is refused.
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/orgs/acme/verify", token(t, "acme", "user-1", "superuser"), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMetrics_AdminOnly(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		tok        string
		wantStatus int
	}{
		{name: "anonymous", tok: "", wantStatus: http.StatusUnauthorized},
		{name: "member", tok: token(t, "acme", "user-1", "member"), wantStatus: http.StatusForbidden},
		{name: "viewer", tok: token(t, "acme", "user-1", "viewer"), wantStatus: http.StatusForbidden},
		{name: "admin", tok: token(t, "", "ops-1", "admin"), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := do(t, http.MethodGet, srv.URL+"/metrics", tt.tok, "")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAPI_AppendVerifyAndMetrics(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, nil)
	tok := token(t, "acme", "user-1", "member")

	for _, payload := range []string{`{\"amount\":10}`, `{\"amount\":20}`} {
		resp := do(t, http.MethodPost, srv.URL+"/api/v1/orgs/acme/events", tok,
			`{"event_type":"PAYMENT_APPROVED","actor_id":"user-1","event_payload":"`+payload+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/orgs/acme/verify", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v audit.Verification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.True(t, v.Valid)
	assert.Equal(t, 2, v.EventCount)

	events, err := st.Audit().ListEvents(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, `{"amount":20}`, string(events[1].Payload))

	resp = do(t, http.MethodGet, srv.URL+"/metrics", token(t, "", "ops-1", "admin"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `auditchain_append_total{result="ok"} 2`)
	assert.Contains(t, string(body), `auditchain_verify_total{result="valid"} 1`)
}

func TestAPI_WebSocketNotMountedWithoutHub(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/ws/orgs/acme/events", token(t, "acme", "user-1", "member"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
