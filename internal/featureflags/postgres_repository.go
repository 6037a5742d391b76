package featureflags

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores flags in the feature_flags table so that every API
// instance reads the same switches.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL feature flags repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS feature_flags (
		key        TEXT PRIMARY KEY,
		enabled    BOOLEAN NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const upsertFlagSQL = `
	INSERT INTO feature_flags (key, enabled, reason, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (key) DO UPDATE SET
		enabled = EXCLUDED.enabled,
		reason = EXCLUDED.reason,
		updated_at = EXCLUDED.updated_at
`

// EnsureSchema creates the feature_flags table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, createTableSQL)
	return err
}

// GetFlag retrieves a single stored flag.
func (r *PostgresRepository) GetFlag(ctx context.Context, key string) (*Flag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, enabled, reason, updated_at FROM feature_flags WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}

	flag, err := pgx.CollectExactlyOneRow(rows, scanFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	return flag, err
}

// GetAllFlags retrieves every stored flag.
func (r *PostgresRepository) GetAllFlags(ctx context.Context) (map[string]*Flag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, enabled, reason, updated_at FROM feature_flags ORDER BY key`)
	if err != nil {
		return nil, err
	}

	stored, err := pgx.CollectRows(rows, scanFlag)
	if err != nil {
		return nil, err
	}

	flags := make(map[string]*Flag, len(stored))
	for _, f := range stored {
		flags[f.Key] = f
	}
	return flags, nil
}

// SetFlags upserts flags in one transaction.
func (r *PostgresRepository) SetFlags(ctx context.Context, flags []*Flag) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range flags {
			batch.Queue(upsertFlagSQL, f.Key, f.Enabled, f.Reason)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// DeleteFlag removes a stored flag.
func (r *PostgresRepository) DeleteFlag(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM feature_flags WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func scanFlag(row pgx.CollectableRow) (*Flag, error) {
	var f Flag
	if err := row.Scan(&f.Key, &f.Enabled, &f.Reason, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

var _ Repository = (*PostgresRepository)(nil)
