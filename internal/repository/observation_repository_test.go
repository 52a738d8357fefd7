package repository

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/rpattn/casefeed/internal/domain"
)

func TestBuildObservationQueryNoFilter(t *testing.T) {
	sql, args := buildObservationQuery(domain.ObservationFilter{})

	assert.Contains(t, sql, "FROM observations ORDER BY last_update, id LIMIT $1")
	assert.NotContains(t, sql, "WHERE")
	assert.Equal(t, []any{500}, args)
}

func TestBuildObservationQueryAllFilters(t *testing.T) {
	from := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	sql, args := buildObservationQuery(domain.ObservationFilter{
		From:          &from,
		To:            &to,
		CountryRegion: "China",
		ProvinceState: "Hubei",
		Limit:         10,
		Offset:        20,
	})

	assert.Contains(t, sql, "WHERE last_update >= $1 AND last_update < $2 AND LOWER(country_region) = LOWER($3) AND LOWER(province_state) = LOWER($4)")
	assert.Contains(t, sql, "LIMIT $5 OFFSET $6")
	assert.Equal(t, []any{from, to, "China", "Hubei", 10, 20}, args)
}

func TestIntegrityClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint", ConstraintName: "tracked_files_fingerprint_key"}
	check := &pgconn.PgError{Code: "23514", Message: "new row violates check constraint"}
	conn := &pgconn.PgError{Code: "08006", Message: "connection failure"}

	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isIntegrityViolation(unique))
	assert.True(t, isIntegrityViolation(check))
	assert.False(t, isUniqueViolation(check))
	assert.False(t, isIntegrityViolation(conn))
	assert.Contains(t, integrityDetail(unique), "constraint tracked_files_fingerprint_key")
}

func TestObservationWhereWithoutFilter(t *testing.T) {
	where, args := observationWhere(domain.ObservationFilter{Limit: 10, Offset: 5})

	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestObservationWhereIgnoresPaging(t *testing.T) {
	where, args := observationWhere(domain.ObservationFilter{CountryRegion: "Japan", Limit: 10})

	assert.Equal(t, " WHERE LOWER(country_region) = LOWER($1)", where)
	assert.Equal(t, []any{"Japan"}, args)
}
