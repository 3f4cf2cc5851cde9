package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"certledger/internal/certificate/models"
)

// PostgresAllocator keeps one counter row per scope and increments it with a
// single upsert. It deliberately uses the pool rather than the caller's
// transaction: the row lock is released immediately so concurrent issuances in
// the same scope do not queue behind each other's document rendering. A
// rolled-back issuance therefore leaves a gap in the serials, never a duplicate.
type PostgresAllocator struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresAllocatorOption configures a PostgresAllocator.
type PostgresAllocatorOption func(*PostgresAllocator)

// WithPostgresClock sets the clock used for updated_at.
func WithPostgresClock(clock func() time.Time) PostgresAllocatorOption {
	return func(a *PostgresAllocator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

func NewPostgresAllocator(db *sql.DB, opts ...PostgresAllocatorOption) *PostgresAllocator {
	a := &PostgresAllocator{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Next atomically increments and returns the scope's counter.
func (a *PostgresAllocator) Next(ctx context.Context, scope models.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, fmt.Errorf("allocate serial: %w", err)
	}
	query := `
		INSERT INTO certificate_sequences (scope, value, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (scope) DO UPDATE SET
			value = certificate_sequences.value + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING value
	`
	var value int64
	if err := a.db.QueryRowContext(ctx, query, scope.Key(), a.clock()).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", scope.Key(), err)
	}
	return value, nil
}
