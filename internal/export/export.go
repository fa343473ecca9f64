// Package export builds regulatory packages: a zip of an organization's audit
// chain, its verification result and a manifest of per-file SHA-256 hashes.
// The package hash covers the files only; it is independent of the chain.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
)

const (
	SystemVersion = "auditchain-export/1"
	HashAlgorithm = "SHA256"
	ManifestName  = "manifest.json"
)

// Read limits. A genuine package holds a handful of files; anything beyond
// these bounds is refused rather than decompressed.
const (
	maxEntries   = 64
	maxEntrySize = 512 << 20
)

// Package file names.
const (
	FileAuditEvents   = "audit_log/audit_events.json"
	FileVerification  = "audit_log/hash_chain_verification.json"
	FileSystemVersion = "metadata/system_version.json"
	FileEnvironment   = "metadata/environment.json"
)

type Manifest struct {
	ExportID      uuid.UUID         `json:"export_id"`
	OrgID         string            `json:"org_id"`
	GeneratedAt   string            `json:"export_generated_at"`
	Scope         string            `json:"scope,omitempty"`
	HashAlgorithm string            `json:"hash_algorithm"`
	Files         map[string]string `json:"files"`
	PackageHash   string            `json:"package_hash"`
}

// Result describes a written package.
type Result struct {
	Path         string
	Manifest     Manifest
	EventCount   int
	Verification *domain.ChainVerification
}

type eventLister interface {
	ListEvents(ctx context.Context, orgID string) ([]*domain.AuditEvent, error)
}

type Packager struct {
	events      eventLister
	dir         string
	environment string
	now         func() time.Time
}

func NewPackager(events eventLister, dir, environment string) *Packager {
	return &Packager{
		events:      events,
		dir:         dir,
		environment: environment,
		now:         time.Now,
	}
}

// Export snapshots the organization's chain, verifies that snapshot and
// writes the package into the packager's directory.
func (p *Packager) Export(ctx context.Context, orgID, scope string) (*Result, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("export.Packager.Export: %w: org id is required", domain.ErrInvalidInput)
	}

	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return nil, fmt.Errorf("export.Packager.Export: create dir: %w", err)
	}

	now := p.now().UTC()
	name := fmt.Sprintf("org_%s_%s.zip", safeName(orgID), now.Format("20060102150405.000000"))

	tmp, err := os.CreateTemp(p.dir, ".export-*.zip")
	if err != nil {
		return nil, fmt.Errorf("export.Packager.Export: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	res, err := p.Write(ctx, tmp, orgID, scope)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("export.Packager.Export: %w", err)
	}

	res.Path = filepath.Join(p.dir, name)
	if err := os.Rename(tmp.Name(), res.Path); err != nil {
		return nil, fmt.Errorf("export.Packager.Export: %w", err)
	}

	log.Info().
		Str("org_id", orgID).
		Str("path", res.Path).
		Str("package_hash", res.Manifest.PackageHash).
		Int("event_count", res.EventCount).
		Msg("export: package written")

	return res, nil
}

// Write streams a package to w.
func (p *Packager) Write(ctx context.Context, w io.Writer, orgID, scope string) (*Result, error) {
	events, err := p.events.ListEvents(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	now := p.now().UTC()
	verification := audit.Replay(orgID, events)
	verification.VerifiedAt = now

	files := map[string]any{
		FileAuditEvents:   audit.NewRecords(events),
		FileVerification:  audit.NewVerification(verification),
		FileSystemVersion: map[string]string{"system_version": SystemVersion},
		FileEnvironment:   map[string]string{"environment": p.environment},
	}

	manifest := Manifest{
		ExportID:      uuid.New(),
		OrgID:         orgID,
		GeneratedAt:   audit.FormatTimestamp(now),
		Scope:         scope,
		HashAlgorithm: HashAlgorithm,
		Files:         make(map[string]string, len(files)),
	}

	zw := zip.NewWriter(w)
	for _, name := range sortedKeys(files) {
		body, err := encode(files[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		if err := writeEntry(zw, name, body, now); err != nil {
			return nil, err
		}
		manifest.Files[name] = hashBytes(body)
	}

	manifest.PackageHash = PackageHash(manifest.Files)

	body, err := encode(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeEntry(zw, ManifestName, body, now); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}

	return &Result{
		Manifest:     manifest,
		EventCount:   len(events),
		Verification: verification,
	}, nil
}

// PackageHash is the SHA-256 of the sorted file hashes concatenated.
func PackageHash(files map[string]string) string {
	hashes := make([]string, 0, len(files))
	for _, h := range files {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashBytes([]byte(strings.Join(hashes, "")))
}

// VerifyPackage re-hashes every file named in the manifest and checks the
// package hash. It does not re-verify the chain inside.
func VerifyPackage(r io.ReaderAt, size int64) (*Manifest, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("export.VerifyPackage: %w: %w", domain.ErrInvalidInput, err)
	}

	if len(zr.File) > maxEntries {
		return nil, fmt.Errorf("export.VerifyPackage: %w: %d entries, at most %d allowed", domain.ErrInvalidInput, len(zr.File), maxEntries)
	}

	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		body, err := readEntry(f, maxEntrySize)
		if err != nil {
			return nil, fmt.Errorf("export.VerifyPackage: %s: %w", f.Name, err)
		}
		contents[f.Name] = body
	}

	raw, ok := contents[ManifestName]
	if !ok {
		return nil, fmt.Errorf("export.VerifyPackage: %w: manifest missing", domain.ErrInvalidInput)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("export.VerifyPackage: %w: manifest: %w", domain.ErrInvalidInput, err)
	}

	for name, want := range m.Files {
		body, ok := contents[name]
		if !ok {
			return &m, fmt.Errorf("export.VerifyPackage: %w: %s missing", domain.ErrInvalidInput, name)
		}
		if got := hashBytes(body); got != want {
			return &m, fmt.Errorf("export.VerifyPackage: %w: %s hash %s, manifest says %s", domain.ErrInvalidInput, name, got, want)
		}
	}
	for name := range contents {
		if _, listed := m.Files[name]; !listed && name != ManifestName {
			return &m, fmt.Errorf("export.VerifyPackage: %w: %s not in manifest", domain.ErrInvalidInput, name)
		}
	}
	if got := PackageHash(m.Files); got != m.PackageHash {
		return &m, fmt.Errorf("export.VerifyPackage: %w: package hash %s, manifest says %s", domain.ErrInvalidInput, got, m.PackageHash)
	}

	return &m, nil
}

// ReadEvents decodes the audit events file of a package so its chain can be
// replayed offline.
func ReadEvents(r io.ReaderAt, size int64) ([]*domain.AuditEvent, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("export.ReadEvents: %w: %w", domain.ErrInvalidInput, err)
	}

	for _, f := range zr.File {
		if f.Name != FileAuditEvents {
			continue
		}
		body, err := readEntry(f, maxEntrySize)
		if err != nil {
			return nil, fmt.Errorf("export.ReadEvents: %w", err)
		}
		var records []audit.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("export.ReadEvents: %w: %w", domain.ErrInvalidInput, err)
		}
		events := make([]*domain.AuditEvent, 0, len(records))
		for _, rec := range records {
			e, err := rec.Event()
			if err != nil {
				return nil, fmt.Errorf("export.ReadEvents: %w", err)
			}
			events = append(events, e)
		}
		return events, nil
	}

	return nil, fmt.Errorf("export.ReadEvents: %w: %s missing", domain.ErrInvalidInput, FileAuditEvents)
}

// OpenPackage verifies a package and returns its manifest together with the
// events it carries. Every event must belong to the manifest's organization;
// the chain itself is left to the caller to replay.
func OpenPackage(r io.ReaderAt, size int64) (*Manifest, []*domain.AuditEvent, error) {
	m, err := VerifyPackage(r, size)
	if err != nil {
		return nil, nil, err
	}

	events, err := ReadEvents(r, size)
	if err != nil {
		return nil, nil, err
	}

	for _, e := range events {
		if e.OrgID != m.OrgID {
			return nil, nil, fmt.Errorf("export.OpenPackage: %w: event %s belongs to organization %q, package is for %q",
				domain.ErrInvalidInput, e.ID, e.OrgID, m.OrgID)
		}
	}

	return m, events, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, body []byte, modified time.Time) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(body); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// readEntry decompresses at most limit bytes. The declared size is checked
// first and the stream is bounded as well.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) { //nolint:gosec // limit is positive
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit is %d", domain.ErrInvalidInput, f.Name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidInput, f.Name, limit)
	}
	return body, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}
