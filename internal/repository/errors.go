package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/casefeed/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isIntegrityViolation matches SQLSTATE class 23 (integrity constraint
// violation) and 22 (data exception, e.g. out of range values).
func isIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")
}

func integrityDetail(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err.Error()
	}
	var parts []string
	parts = append(parts, pgErr.Message)
	if pgErr.ConstraintName != "" {
		parts = append(parts, "constraint "+pgErr.ConstraintName)
	}
	if pgErr.Detail != "" {
		parts = append(parts, pgErr.Detail)
	}
	if pgErr.Where != "" {
		parts = append(parts, pgErr.Where)
	}
	return strings.Join(parts, "; ")
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var errNotInitialized = errors.New("repository not initialized")

func wrapNotFound(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}
