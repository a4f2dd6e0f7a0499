package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
	"go.uber.org/zap"
)

type RoleStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRoleStore(pool *pgxpool.Pool, logger *zap.Logger) *RoleStore {
	return &RoleStore{pool: pool, logger: logger}
}

// List returns role assignments for a user, optionally narrowed to one
// tenant. Oldest assignment first, so "take the first row" is stable.
//
// This is the ingestion boundary for roles: a value outside the closed
// enumeration is coerced to client, never passed through.
func (s *RoleStore) List(ctx context.Context, f repository.RoleFilter) ([]models.RoleAssignment, error) {
	query := `
		SELECT user_id, tenant_id, role, created_at
		FROM user_roles
		WHERE user_id = $1`
	args := []any{f.UserID}

	if f.TenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, f.TenantID)
	}
	query += ` ORDER BY created_at, tenant_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	out := make([]models.RoleAssignment, 0)
	for rows.Next() {
		var (
			a       models.RoleAssignment
			rawRole string
		)
		if err := rows.Scan(&a.UserID, &a.TenantID, &rawRole, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		role, err := models.ParseRole(rawRole)
		if err != nil {
			s.logger.Warn("coercing unknown role to client",
				zap.String("user_id", a.UserID.String()),
				zap.String("tenant_id", a.TenantID),
				zap.String("role", rawRole),
			)
			role = models.RoleClient
		}
		a.Role = role
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return out, nil
}

// Assign is an upsert: a user holds exactly one role per tenant.
func (s *RoleStore) Assign(ctx context.Context, a models.RoleAssignment) error {
	query := `
		INSERT INTO user_roles (user_id, tenant_id, role, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, tenant_id) DO UPDATE SET role = EXCLUDED.role`

	if _, err := s.pool.Exec(ctx, query, a.UserID, a.TenantID, string(a.Role)); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}
