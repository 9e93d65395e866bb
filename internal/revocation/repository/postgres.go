package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/revocation/domain"
)

// PostgresRepository stores revoked tokens in the revoked_tokens table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a revocation repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert stores t; an existing entry for the same hash is left untouched.
func (r *PostgresRepository) Insert(ctx context.Context, t *domain.RevokedToken) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (token_hash, expires_at, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO NOTHING`,
		t.TokenHash, t.ExpiresAt, t.Reason, t.CreatedAt)
	if err != nil {
		return false, apperr.Storage("revocation.insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the entry for tokenHash, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, tokenHash string) (*domain.RevokedToken, error) {
	var t domain.RevokedToken
	err := r.pool.QueryRow(ctx, `
		SELECT token_hash, expires_at, reason, created_at
		FROM revoked_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.TokenHash, &t.ExpiresAt, &t.Reason, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("revocation.get", err)
	}
	return &t, nil
}

// Delete removes the entry for tokenHash. Missing entries are not an error.
func (r *PostgresRepository) Delete(ctx context.Context, tokenHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return apperr.Storage("revocation.delete", err)
	}
	return nil
}

// DeleteExpired removes all entries whose expiry is at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage("revocation.delete_expired", err)
	}
	return tag.RowsAffected(), nil
}
