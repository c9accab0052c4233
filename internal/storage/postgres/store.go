// Package pgstore persists entitlements in PostgreSQL. Instants are stored as
// integer milliseconds so equality checks match the wire format exactly.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scriptgate/internal/entitlement"
)

// Schema creates the entitlements table.
const Schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	user_id                 TEXT PRIMARY KEY,
	trial_start_ms          BIGINT  NOT NULL,
	trial_ended_logged      BOOLEAN NOT NULL DEFAULT FALSE,
	license_active          BOOLEAN NOT NULL DEFAULT FALSE,
	license_activated_at_ms BIGINT,
	license_ended_logged    BOOLEAN NOT NULL DEFAULT FALSE
);
`

const selectColumns = `user_id, trial_start_ms, trial_ended_logged, license_active, license_activated_at_ms, license_ended_logged`

// Store is a PostgreSQL-backed entitlement.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ entitlement.Store  = (*Store)(nil)
	_ entitlement.Pinger = (*Store)(nil)
)

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return unavailable("ensure_schema", err)
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements (user_id, trial_start_ms) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, entitlement.Millis(now))
	if err != nil {
		return entitlement.Entitlement{}, unavailable("get_or_create", err)
	}

	rec, err := scan(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM entitlements WHERE user_id = $1`, userID))
	if err != nil {
		return entitlement.Entitlement{}, wrap("get_or_create", err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, userID string) (entitlement.Entitlement, error) {
	rec, err := scan(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM entitlements WHERE user_id = $1`, userID))
	if err != nil {
		return entitlement.Entitlement{}, wrap("get", err)
	}
	return rec, nil
}

func (s *Store) ApplyTransitions(ctx context.Context, userID string, t entitlement.Transitions) (entitlement.Entitlement, entitlement.Transitions, error) {
	if t.Empty() {
		rec, err := s.Get(ctx, userID)
		return rec, entitlement.Transitions{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, unavailable("apply_transitions", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scan(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM entitlements WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, wrap("apply_transitions", err)
	}

	applied := t.ApplyTo(&rec)
	if applied.Empty() {
		return rec, applied, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE entitlements
		    SET trial_ended_logged = $2, license_active = $3, license_ended_logged = $4
		  WHERE user_id = $1`,
		userID, rec.TrialEndedLogged, rec.LicenseActive, rec.LicenseEndedLogged)
	if err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, unavailable("apply_transitions", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, unavailable("apply_transitions", err)
	}
	return rec, applied, nil
}

func (s *Store) Activate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	rec, err := scan(s.pool.QueryRow(ctx,
		`UPDATE entitlements
		    SET license_active = TRUE, license_activated_at_ms = $2, license_ended_logged = FALSE
		  WHERE user_id = $1
		RETURNING `+selectColumns,
		userID, entitlement.Millis(now)))
	if err != nil {
		return entitlement.Entitlement{}, wrap("activate", err)
	}
	return rec, nil
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func scan(row pgx.Row) (entitlement.Entitlement, error) {
	var (
		rec         entitlement.Entitlement
		trialStart  int64
		activatedAt *int64
	)
	if err := row.Scan(&rec.UserID, &trialStart, &rec.TrialEndedLogged, &rec.LicenseActive, &activatedAt, &rec.LicenseEndedLogged); err != nil {
		return entitlement.Entitlement{}, err
	}
	rec.TrialStart = entitlement.FromMillis(trialStart)
	if activatedAt != nil {
		at := entitlement.FromMillis(*activatedAt)
		rec.LicenseActivatedAt = &at
	}
	return rec, nil
}

func wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return entitlement.ErrNotFound
	}
	return unavailable(op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %w", entitlement.ErrStoreUnavailable, op, err)
}
