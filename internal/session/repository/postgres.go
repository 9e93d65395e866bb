package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/db"
	"ams-control-plane/backend/internal/session/domain"
)

const sessionColumns = `id, identity_id, device, browser, origin, refresh_token_hash, is_active,
	created_at, expires_at, last_seen_at, retired_at, retire_reason`

// PostgresRepository stores sessions in the sessions table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// InIdentityScope opens a transaction and locks the identity row with SELECT ... FOR UPDATE, which
// serializes concurrent scopes for the same identity until commit or rollback.
func (r *PostgresRepository) InIdentityScope(ctx context.Context, identityID string, fn func(ctx context.Context, s Scope) error) error {
	var fnErr error
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, identityID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				fnErr = ErrUnknownIdentity
				return fnErr
			}
			return err
		}
		fnErr = fn(ctx, &pgScope{tx: tx, identityID: identityID})
		return fnErr
	})
	if err != nil {
		if fnErr != nil && errors.Is(err, fnErr) {
			return fnErr
		}
		return apperr.Storage("session.scope", err)
	}
	return nil
}

// DeactivateByFingerprint retires the identity's active sessions for fp.
func (r *PostgresRepository) DeactivateByFingerprint(ctx context.Context, identityID string, fp domain.Fingerprint, at time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, retired_at = $5, retire_reason = $6
		WHERE identity_id = $1 AND device = $2 AND browser = $3 AND origin = $4 AND is_active`,
		identityID, fp.Device, fp.Browser, fp.Origin, at, reason)
	if err != nil {
		return 0, apperr.Storage("session.deactivate", err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the identity's active sessions, newest first.
func (r *PostgresRepository) ListActive(ctx context.Context, identityID string) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = $1 AND is_active
		ORDER BY created_at DESC, id DESC`, identityID)
	if err != nil {
		return nil, apperr.Storage("session.list_active", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Storage("session.list_active", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("session.list_active", err)
	}
	return out, nil
}

// RotateRefresh swaps oldHash for newHash in a single conditional update.
func (r *PostgresRepository) RotateRefresh(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		UPDATE sessions SET refresh_token_hash = $2, expires_at = $3, last_seen_at = $4
		WHERE refresh_token_hash = $1 AND is_active AND expires_at > $4
		RETURNING `+sessionColumns, oldHash, newHash, expiresAt, now))
	if err != nil {
		return nil, apperr.Storage("session.rotate", err)
	}
	return s, nil
}

type pgScope struct {
	tx         pgx.Tx
	identityID string
}

func (s *pgScope) FindActiveByFingerprint(ctx context.Context, fp domain.Fingerprint) (*domain.Session, error) {
	return scanSession(s.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = $1 AND device = $2 AND browser = $3 AND origin = $4 AND is_active
		ORDER BY created_at, id LIMIT 1`,
		s.identityID, fp.Device, fp.Browser, fp.Origin))
}

func (s *pgScope) RetireExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.tx.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, retired_at = $2, retire_reason = $3
		WHERE identity_id = $1 AND is_active AND expires_at <= $2`,
		s.identityID, now, domain.ReasonExpired)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgScope) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.tx.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE identity_id = $1 AND is_active`, s.identityID).Scan(&n)
	return n, err
}

func (s *pgScope) OldestActive(ctx context.Context) (*domain.Session, error) {
	return scanSession(s.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = $1 AND is_active
		ORDER BY created_at, id LIMIT 1`, s.identityID))
}

func (s *pgScope) Retire(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, retired_at = $3, retire_reason = $4
		WHERE id = $1 AND identity_id = $2`, id, s.identityID, at, reason)
	return err
}

func (s *pgScope) Refresh(ctx context.Context, id, refreshTokenHash string, expiresAt, seenAt time.Time) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE sessions SET refresh_token_hash = $3, expires_at = $4, last_seen_at = $5
		WHERE id = $1 AND identity_id = $2`, id, s.identityID, refreshTokenHash, expiresAt, seenAt)
	return err
}

func (s *pgScope) Insert(ctx context.Context, sess *domain.Session) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO sessions (id, identity_id, device, browser, origin, refresh_token_hash, is_active,
			created_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9)`,
		sess.ID, s.identityID, sess.Fingerprint.Device, sess.Fingerprint.Browser, sess.Fingerprint.Origin,
		sess.RefreshTokenHash, sess.CreatedAt, sess.ExpiresAt, sess.LastSeenAt)
	return err
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.IdentityID, &s.Fingerprint.Device, &s.Fingerprint.Browser, &s.Fingerprint.Origin,
		&s.RefreshTokenHash, &s.Active, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &s.RetiredAt, &s.RetireReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
