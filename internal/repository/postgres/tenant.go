package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint
// failure (duplicate primary key or subdomain).
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// features, settings and custom_colors are jsonb columns; pgx decodes
// them straight into the model structs.
const tenantColumns = `id, name, subdomain, logo, theme, custom_colors,
	features, settings, subscription_status, trial_ends_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t           models.Tenant
		theme       string
		status      string
		trialEndsAt *time.Time
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Subdomain,
		&t.Logo,
		&theme,
		&t.CustomColors,
		&t.Features,
		&t.Settings,
		&status,
		&trialEndsAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Theme, err = models.ParseTheme(theme); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	if t.SubscriptionStatus, err = models.ParseSubscriptionStatus(status); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	t.TrialEndsAt = trialEndsAt
	return &t, nil
}

func (s *TenantStore) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE subdomain = $1`

	t, err := scanTenant(s.pool.QueryRow(ctx, query, subdomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]models.Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

func (s *TenantStore) Create(ctx context.Context, t models.Tenant) (*models.Tenant, error) {
	query := `
		INSERT INTO tenants (id, name, subdomain, logo, theme, custom_colors,
			features, settings, subscription_status, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + tenantColumns

	created, err := scanTenant(s.pool.QueryRow(ctx, query,
		t.ID, t.Name, t.Subdomain, t.Logo, string(t.Theme), t.CustomColors,
		t.Features, t.Settings, string(t.SubscriptionStatus), t.TrialEndsAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create tenant %s: %w", t.Subdomain, repository.ErrConflict)
		}
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return created, nil
}

func (s *TenantStore) Update(ctx context.Context, subdomain string, t models.Tenant) (*models.Tenant, error) {
	query := `
		UPDATE tenants
		SET name = $2, subdomain = $3, logo = $4, theme = $5, custom_colors = $6,
			features = $7, settings = $8, subscription_status = $9, trial_ends_at = $10
		WHERE subdomain = $1
		RETURNING ` + tenantColumns

	updated, err := scanTenant(s.pool.QueryRow(ctx, query,
		subdomain, t.Name, t.Subdomain, t.Logo, string(t.Theme), t.CustomColors,
		t.Features, t.Settings, string(t.SubscriptionStatus), t.TrialEndsAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update tenant %s: %w", t.Subdomain, repository.ErrConflict)
		}
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	return updated, nil
}

func (s *TenantStore) Delete(ctx context.Context, subdomain string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE subdomain = $1`, subdomain)
	if err != nil {
		return false, fmt.Errorf("delete tenant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
