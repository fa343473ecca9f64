package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/export"
	"github.com/gosuda/auditchain/internal/store/memory"
)

const testSecret = "test-secret-that-is-at-least-32ch"

func setMemoryEnv(t *testing.T) {
	t.Setenv("AUDITCHAIN_JWT_SECRET", testSecret)
	t.Setenv("AUDITCHAIN_STORE", "memory")
	t.Setenv("AUDITCHAIN_REDIS_ADDR", "")
}

func TestRun_Token(t *testing.T) {
	setMemoryEnv(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"token", "acme", "user-1", "viewer"}, &out))

	claims, err := auth.ValidateToken(testSecret, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.OrgID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "viewer", claims.Role)
}

func TestRun_UsageErrors(t *testing.T) {
	setMemoryEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"frobnicate"}},
		{name: "verify without org", args: []string{"verify"}},
		{name: "token without actor", args: []string{"token", "acme"}},
		{name: "verify-export without path", args: []string{"verify-export"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "usage:")
		})
	}
}

func TestRun_VerifyEmptyChain(t *testing.T) {
	setMemoryEnv(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"verify", "acme"}, &out))

	var v audit.Verification
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.True(t, v.Valid)
	assert.Zero(t, v.EventCount)
}

func writePackage(t *testing.T) (string, *memory.Store) {
	t.Helper()

	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Organizations().Create(ctx, &domain.Organization{ID: "acme", Name: "Acme", CreatedAt: time.Now().UTC()}))

	svc := audit.NewService(audit.NewKeyedGate(st.Audit(), st.Organizations(), time.Second), st.Audit())
	for i := range 3 {
		_, err := svc.Append(ctx, audit.AppendInput{OrgID: "acme", EventType: "STEP", Payload: map[string]int{"i": i}})
		require.NoError(t, err)
	}

	res, err := export.NewPackager(st.Audit(), t.TempDir(), "test").Export(ctx, "acme", "full")
	require.NoError(t, err)
	return res.Path, st
}

func TestRun_VerifyExport(t *testing.T) {
	path, _ := writePackage(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"verify-export", path}, &out))

	var got struct {
		ExportID     string             `json:"export_id"`
		PackageHash  string             `json:"package_hash"`
		Verification audit.Verification `json:"verification"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got.ExportID)
	assert.Len(t, got.PackageHash, 64)
	assert.True(t, got.Verification.Valid)
	assert.Equal(t, 3, got.Verification.EventCount)
	assert.Equal(t, "acme", got.Verification.OrgID)
}

func TestRun_VerifyExportTampered(t *testing.T) {
	path, _ := writePackage(t)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	tampered := filepath.Join(t.TempDir(), "tampered.zip")
	f, err := os.Create(tampered)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, entry := range zr.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		if entry.Name == export.FileAuditEvents {
			body = bytes.Replace(body, []byte(`"STEP"`), []byte(`"SKIP"`), 1)
		}

		w, err := zw.Create(entry.Name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	err = run([]string{"verify-export", tampered}, &bytes.Buffer{})
	assert.Error(t, err)
}

type fixedLister []*domain.AuditEvent

func (l fixedLister) ListEvents(context.Context, string) ([]*domain.AuditEvent, error) {
	return l, nil
}

func TestRun_VerifyExportForeignEvents(t *testing.T) {
	_, st := writePackage(t)
	events, err := st.Audit().ListEvents(context.Background(), "acme")
	require.NoError(t, err)

	// acme's intact chain packaged under another organization's name.
	res, err := export.NewPackager(fixedLister(events), t.TempDir(), "test").Export(context.Background(), "globex", "full")
	require.NoError(t, err)

	err = run([]string{"verify-export", res.Path}, &bytes.Buffer{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRun_VerifyExportMissingFile(t *testing.T) {
	err := run([]string{"verify-export", filepath.Join(t.TempDir(), "nope.zip")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOpenBackend_MemoryUsesKeyedGate(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.BackendMemory, Gate: config.GateAuto},
		Audit: config.AuditConfig{LockTimeout: time.Second},
	}

	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &audit.KeyedGate{}, b.gate)
	assert.Nil(t, b.pubsub)
	assert.NoError(t, b.Ping(context.Background()))
}

func TestOpenBackend_SQLite(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Store:  config.StoreConfig{Backend: config.BackendSQLite, Gate: config.GateAuto},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "chain.db")},
		Audit:  config.AuditConfig{LockTimeout: time.Second},
	}

	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &audit.KeyedGate{}, b.gate)
	assert.NoError(t, b.Ping(context.Background()))
}
