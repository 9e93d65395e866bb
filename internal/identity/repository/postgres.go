package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/db"
	"ams-control-plane/backend/internal/identity/domain"
)

const identityColumns = `id, email, COALESCE(username, ''), COALESCE(phone_number, ''), password_hash,
	first_name, last_name, timezone, status, email_verified, phone_verified, last_login_at, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an identity repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, "identity.get_by_id", `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// GetByEmail returns the identity with the given (normalized) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getOne(ctx, "identity.get_by_email", `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

// GetByUsername returns the identity with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.getOne(ctx, "identity.get_by_username", `SELECT `+identityColumns+` FROM identities WHERE username = $1`, username)
}

// GetByPhone returns the identity with the given E.164 phone number, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.Identity, error) {
	return r.getOne(ctx, "identity.get_by_phone", `SELECT `+identityColumns+` FROM identities WHERE phone_number = $1`, phone)
}

func (r *PostgresRepository) getOne(ctx context.Context, op, query string, arg string) (*domain.Identity, error) {
	var i domain.Identity
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&i.ID, &i.Email, &i.Username, &i.Phone, &i.PasswordHash,
		&i.FirstName, &i.LastName, &i.Timezone, &i.Status, &i.EmailVerified, &i.PhoneVerified,
		&i.LastLoginAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage(op, err)
	}
	return &i, nil
}

// Create persists the identity. Collisions on email, username or phone map to ErrDuplicateIdentifier.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (id, email, username, phone_number, password_hash, first_name, last_name,
			timezone, status, email_verified, phone_verified, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		i.ID, i.Email, i.Username, i.Phone, i.PasswordHash, i.FirstName, i.LastName,
		i.Timezone, i.Status, i.EmailVerified, i.PhoneVerified, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "identities_email_key"):
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "email already in use")
		case db.IsUniqueViolation(err, "identities_username_key"):
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "username already in use")
		case db.IsUniqueViolation(err, "identities_phone_number_key"):
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "phone number already in use")
		}
		return apperr.Storage("identity.create", err)
	}
	return nil
}

// SetEmailVerified flips email_verified to true.
func (r *PostgresRepository) SetEmailVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "identity.set_email_verified",
		`UPDATE identities SET email_verified = TRUE, updated_at = now() WHERE id = $1`, id)
}

// SetPhoneVerified flips phone_verified to true.
func (r *PostgresRepository) SetPhoneVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "identity.set_phone_verified",
		`UPDATE identities SET phone_verified = TRUE, updated_at = now() WHERE id = $1`, id)
}

// TouchLastLogin records a successful signin.
func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "identity.touch_last_login",
		`UPDATE identities SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepository) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}
