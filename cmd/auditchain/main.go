package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/api/ws"
	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/export"
	"github.com/gosuda/auditchain/internal/metrics"
	"github.com/gosuda/auditchain/internal/server"
	redisstore "github.com/gosuda/auditchain/internal/store/redis"
)

const usage = `usage:
  auditchain [serve]                       run the HTTP API
  auditchain verify <orgID>                replay and verify an organization's chain
  auditchain token <orgID> <actorID> [role] issue a collaborator token
  auditchain verify-export <file.zip>      check an export package offline`

var errChainInvalid = errors.New("audit chain is invalid")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("auditchain failed")
	}
}

func run(args []string, stdout io.Writer) error {
	setupLogging()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	// verify-export works on a file alone and needs no configuration.
	if cmd == "verify-export" {
		if len(args) != 1 {
			return fmt.Errorf("verify-export: expected a package path\n%s", usage)
		}
		return verifyExport(args[0], stdout)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch cmd {
	case "serve":
		return serve(ctx, cfg)
	case "verify":
		if len(args) != 1 {
			return fmt.Errorf("verify: expected an organization id\n%s", usage)
		}
		return verify(ctx, cfg, args[0], stdout)
	case "token":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("token: expected <orgID> <actorID> [role]\n%s", usage)
		}
		role := "member"
		if len(args) == 3 {
			role = args[2]
		}
		tok, err := auth.IssueToken(cfg.JWT.Secret, cfg.JWT.Issuer, args[0], args[1], role, cfg.JWT.TTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, tok)
		return err
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// setupLogging initializes structured logging from environment.
func setupLogging() {
	level, parseErr := zerolog.ParseLevel(os.Getenv("AUDITCHAIN_LOG_LEVEL"))
	if parseErr != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("AUDITCHAIN_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	var (
		registerer prometheus.Registerer
		gatherer   prometheus.Gatherer
	)
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registerer, gatherer = reg, reg
	}
	m := metrics.New(registerer)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	opts := []audit.Option{
		audit.WithMetrics(m),
		audit.WithStoreTimeout(cfg.Audit.StoreTimeout),
	}
	var hub *ws.Hub
	if b.pubsub != nil {
		opts = append(opts, audit.WithPublisher(redisstore.NewEventPublisher(b.pubsub)))
		hub = ws.NewHub(b.pubsub)
	}

	srv := server.New(ctx, cfg, server.Deps{
		Store:    b.store,
		Log:      audit.NewService(b.gate, b.store.Audit(), opts...),
		Verifier: audit.NewVerifier(b.store.Audit(), audit.WithVerifierMetrics(m)),
		Holds:    audit.NewHoldRegistry(b.store.LitigationHolds()),
		Exporter: export.NewPackager(b.store.Audit(), cfg.Export.Dir, cfg.Export.Environment),
		Hub:      hub,
		Gatherer: gatherer,
		Health:   b.Ping,
	})

	// Start server in background goroutine.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Block until shutdown signal or listener failure.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func verify(ctx context.Context, cfg *config.Config, orgID string, stdout io.Writer) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := audit.NewVerifier(b.store.Audit()).Verify(ctx, orgID)
	if err != nil {
		return err
	}

	if err := writeJSON(stdout, audit.NewVerification(res)); err != nil {
		return err
	}
	if !res.Valid {
		return errChainInvalid
	}
	return nil
}

// verifyExport checks the manifest hashes and event ownership of a package and
// then replays the chain it carries.
func verifyExport(path string, stdout io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("verify-export: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("verify-export: %w", err)
	}

	manifest, events, err := export.OpenPackage(f, info.Size())
	if err != nil {
		return fmt.Errorf("verify-export: %w", err)
	}

	res := audit.Replay(manifest.OrgID, events)
	res.VerifiedAt = time.Now().UTC()

	if err := writeJSON(stdout, struct {
		ExportID     string             `json:"export_id"`
		PackageHash  string             `json:"package_hash"`
		Verification audit.Verification `json:"verification"`
	}{
		ExportID:     manifest.ExportID.String(),
		PackageHash:  manifest.PackageHash,
		Verification: audit.NewVerification(res),
	}); err != nil {
		return err
	}
	if !res.Valid {
		return errChainInvalid
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
