package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosuda/auditchain/internal/domain"
)

// SQLSTATE codes that change how a failure is reported.
const (
	codeLockNotAvailable = "55P03"
	codeQueryCanceled    = "57014"
	codeSerialization    = "40001"
	codeDeadlock         = "40P01"
	classIntegrity       = "23"
	classConnection      = "08"
	classResources       = "53"
	classOperator        = "57"
)

// classify attaches a domain kind to a driver error. Errors that already
// carry a kind, and context errors, pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrLockTimeout) ||
		errors.Is(err, domain.ErrUnavailable) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeLockNotAvailable, pgErr.Code == codeQueryCanceled:
			return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
		case pgErr.Code == codeSerialization, pgErr.Code == codeDeadlock:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case strings.HasPrefix(pgErr.Code, classIntegrity):
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case strings.HasPrefix(pgErr.Code, classConnection),
			strings.HasPrefix(pgErr.Code, classResources),
			strings.HasPrefix(pgErr.Code, classOperator):
			return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	return err
}
