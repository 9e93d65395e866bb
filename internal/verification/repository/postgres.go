package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/db"
	"ams-control-plane/backend/internal/verification/domain"
)

const challengeColumns = `id, identity_id, channel, method, code_hash, target, expires_at, created_at`

// PostgresRepository stores challenges in the verification_challenges table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a verification repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Replace deletes the pending challenge for the pair and inserts c in one transaction.
func (r *PostgresRepository) Replace(ctx context.Context, c *domain.Challenge) (bool, error) {
	var superseded bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM verification_challenges WHERE identity_id = $1 AND channel = $2`,
			c.IdentityID, string(c.Channel))
		if err != nil {
			return err
		}
		superseded = tag.RowsAffected() > 0
		_, err = tx.Exec(ctx, `
			INSERT INTO verification_challenges (`+challengeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.IdentityID, string(c.Channel), string(c.Method), c.CodeHash, c.Target, c.ExpiresAt, c.CreatedAt)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "verification_challenges_code_hash_key") {
			return false, ErrCodeCollision
		}
		return false, apperr.Storage("verification.replace", err)
	}
	return superseded, nil
}

// Consume deletes and returns the matching unexpired challenge in a single statement.
func (r *PostgresRepository) Consume(ctx context.Context, codeHash string, now time.Time) (*domain.Challenge, error) {
	c, err := scanChallenge(r.pool.QueryRow(ctx, `
		DELETE FROM verification_challenges
		WHERE code_hash = $1 AND expires_at > $2
		RETURNING `+challengeColumns, codeHash, now))
	if err != nil {
		return nil, apperr.Storage("verification.consume", err)
	}
	return c, nil
}

// GetPending returns the challenge for (identityID, channel), expired or not, or nil.
func (r *PostgresRepository) GetPending(ctx context.Context, identityID string, channel domain.Channel) (*domain.Challenge, error) {
	c, err := scanChallenge(r.pool.QueryRow(ctx, `
		SELECT `+challengeColumns+`
		FROM verification_challenges WHERE identity_id = $1 AND channel = $2`, identityID, string(channel)))
	if err != nil {
		return nil, apperr.Storage("verification.get_pending", err)
	}
	return c, nil
}

// DeleteExpired removes all challenges whose expiry is at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM verification_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage("verification.delete_expired", err)
	}
	return tag.RowsAffected(), nil
}

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var (
		c       domain.Challenge
		channel string
		method  string
	)
	err := row.Scan(&c.ID, &c.IdentityID, &channel, &method, &c.CodeHash, &c.Target, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Channel = domain.Channel(channel)
	c.Method = domain.Method(method)
	return &c, nil
}
