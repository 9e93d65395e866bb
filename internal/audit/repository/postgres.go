package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/audit/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an auth event repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists e. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.AuthEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_events (id, identity_id, action, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.IdentityID, e.Action, e.IP, e.Metadata, e.CreatedAt)
	if err != nil {
		return apperr.Storage("audit.create", err)
	}
	return nil
}

// ListByIdentity returns up to limit events for identityID, newest first.
func (r *PostgresRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuthEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, action, ip, metadata, created_at FROM auth_events
		WHERE identity_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, identityID, limit)
	if err != nil {
		return nil, apperr.Storage("audit.list", err)
	}
	defer rows.Close()
	var out []*domain.AuthEvent
	for rows.Next() {
		var e domain.AuthEvent
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Action, &e.IP, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("audit.list", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("audit.list", err)
	}
	return out, nil
}
