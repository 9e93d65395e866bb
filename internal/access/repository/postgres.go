package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/db"
)

const subscriptionColumns = `id, identity_id, COALESCE(organization_id, ''), plan_id, status, start_date, end_date`

// PostgresRepository reads and writes the access tables.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an access repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetSubscription returns the subscription for id, or nil if not found.
func (r *PostgresRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.Storage("access.get_subscription", err)
	}
	return s, nil
}

// CurrentSubscription returns the identity's active, unexpired subscription ending last, or nil.
func (r *PostgresRepository) CurrentSubscription(ctx context.Context, identityID string, now time.Time) (*domain.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE identity_id = $1 AND status = 'active' AND end_date > $2
		ORDER BY end_date DESC, id LIMIT 1`, identityID, now))
	if err != nil {
		return nil, apperr.Storage("access.current_subscription", err)
	}
	return s, nil
}

// ListModuleAccess loads the grants of one owner, then their limits and features.
func (r *PostgresRepository) ListModuleAccess(ctx context.Context, kind domain.OwnerKind, ownerID string) ([]domain.ModuleAccess, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ma.id, ma.owner_kind, ma.owner_id, ma.module_id, m.key, ma.is_active
		FROM module_access ma JOIN modules m ON m.id = ma.module_id
		WHERE ma.owner_kind = $1 AND ma.owner_id = $2
		ORDER BY m.key`, string(kind), ownerID)
	if err != nil {
		return nil, apperr.Storage("access.list_module_access", err)
	}
	var (
		out   []domain.ModuleAccess
		ids   []string
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			a     domain.ModuleAccess
			owner string
		)
		if err := rows.Scan(&a.ID, &owner, &a.OwnerID, &a.ModuleID, &a.ModuleKey, &a.Active); err != nil {
			rows.Close()
			return nil, apperr.Storage("access.list_module_access", err)
		}
		a.OwnerKind = domain.OwnerKind(owner)
		a.Limits = make(map[string]int64)
		a.Features = make(map[string]domain.Feature)
		index[a.ID] = len(out)
		ids = append(ids, a.ID)
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("access.list_module_access", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	limitRows, err := r.pool.Query(ctx, `
		SELECT module_access_id, limit_key, limit_value FROM module_access_limits
		WHERE module_access_id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Storage("access.list_limits", err)
	}
	for limitRows.Next() {
		var (
			id, key string
			value   int64
		)
		if err := limitRows.Scan(&id, &key, &value); err != nil {
			limitRows.Close()
			return nil, apperr.Storage("access.list_limits", err)
		}
		out[index[id]].Limits[key] = value
	}
	limitRows.Close()
	if err := limitRows.Err(); err != nil {
		return nil, apperr.Storage("access.list_limits", err)
	}

	featureRows, err := r.pool.Query(ctx, `
		SELECT module_access_id, feature_key, feature_value, is_enabled FROM module_access_features
		WHERE module_access_id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Storage("access.list_features", err)
	}
	defer featureRows.Close()
	for featureRows.Next() {
		var (
			id, key string
			f       domain.Feature
		)
		if err := featureRows.Scan(&id, &key, &f.Value, &f.Enabled); err != nil {
			return nil, apperr.Storage("access.list_features", err)
		}
		out[index[id]].Features[key] = f
	}
	if err := featureRows.Err(); err != nil {
		return nil, apperr.Storage("access.list_features", err)
	}
	return out, nil
}

// GetModule returns the module for id, or nil if not found.
func (r *PostgresRepository) GetModule(ctx context.Context, id string) (*domain.Module, error) {
	m, err := scanModule(r.pool.QueryRow(ctx, `SELECT id, key, name, COALESCE(parent_id, '') FROM modules WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.Storage("access.get_module", err)
	}
	return m, nil
}

// GetModuleByKey returns the module with key, or nil if not found.
func (r *PostgresRepository) GetModuleByKey(ctx context.Context, key string) (*domain.Module, error) {
	m, err := scanModule(r.pool.QueryRow(ctx, `SELECT id, key, name, COALESCE(parent_id, '') FROM modules WHERE key = $1`, key))
	if err != nil {
		return nil, apperr.Storage("access.get_module_by_key", err)
	}
	return m, nil
}

// UpdateParent locks every module row for the duration of the check and update so two concurrent
// reassignments cannot together form a cycle.
func (r *PostgresRepository) UpdateParent(ctx context.Context, moduleID, parentID string, check func(parents map[string]string) error) error {
	var checkErr error
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, COALESCE(parent_id, '') FROM modules FOR UPDATE`)
		if err != nil {
			return err
		}
		parents := make(map[string]string)
		for rows.Next() {
			var id, parent string
			if err := rows.Scan(&id, &parent); err != nil {
				rows.Close()
				return err
			}
			parents[id] = parent
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if checkErr = check(parents); checkErr != nil {
			return checkErr
		}
		var parent any
		if parentID != "" {
			parent = parentID
		}
		_, err = tx.Exec(ctx, `UPDATE modules SET parent_id = $2 WHERE id = $1`, moduleID, parent)
		return err
	})
	if err != nil {
		if checkErr != nil {
			return checkErr
		}
		return apperr.Storage("access.update_parent", err)
	}
	return nil
}

// CreateModule inserts m.
func (r *PostgresRepository) CreateModule(ctx context.Context, m *domain.Module) error {
	var parent any
	if m.ParentID != "" {
		parent = m.ParentID
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO modules (id, key, name, parent_id) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Key, m.Name, parent)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "module key %q already exists", m.Key)
		}
		return apperr.Storage("access.create_module", err)
	}
	return nil
}

// CreatePlan inserts p.
func (r *PostgresRepository) CreatePlan(ctx context.Context, p *domain.Plan) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO plans (id, name) VALUES ($1, $2)`, p.ID, p.Name)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "plan %q already exists", p.Name)
		}
		return apperr.Storage("access.create_plan", err)
	}
	return nil
}

// CreateSubscription inserts s.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	var org any
	if s.OrganizationID != "" {
		org = s.OrganizationID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, identity_id, organization_id, plan_id, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.IdentityID, org, s.PlanID, string(s.Status), s.StartDate, s.EndDate)
	if err != nil {
		return apperr.Storage("access.create_subscription", err)
	}
	return nil
}

// PutModuleAccess upserts the grant and replaces its limits and features in one transaction.
func (r *PostgresRepository) PutModuleAccess(ctx context.Context, a *domain.ModuleAccess) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO module_access (id, owner_kind, owner_id, module_id, is_active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_kind, owner_id, module_id) DO UPDATE SET is_active = EXCLUDED.is_active
			RETURNING id`,
			a.ID, string(a.OwnerKind), a.OwnerID, a.ModuleID, a.Active).Scan(&id)
		if err != nil {
			return err
		}
		a.ID = id
		if _, err := tx.Exec(ctx, `DELETE FROM module_access_limits WHERE module_access_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM module_access_features WHERE module_access_id = $1`, id); err != nil {
			return err
		}
		for k, v := range a.Limits {
			if _, err := tx.Exec(ctx, `
				INSERT INTO module_access_limits (module_access_id, limit_key, limit_value) VALUES ($1, $2, $3)`,
				id, k, v); err != nil {
				return err
			}
		}
		for k, f := range a.Features {
			if _, err := tx.Exec(ctx, `
				INSERT INTO module_access_features (module_access_id, feature_key, feature_value, is_enabled)
				VALUES ($1, $2, $3, $4)`, id, k, f.Value, f.Enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Storage("access.put_module_access", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		s      domain.Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.IdentityID, &s.OrganizationID, &s.PlanID, &status, &s.StartDate, &s.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = domain.SubscriptionStatus(status)
	return &s, nil
}

func scanModule(row pgx.Row) (*domain.Module, error) {
	var m domain.Module
	if err := row.Scan(&m.ID, &m.Key, &m.Name, &m.ParentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
