package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/agenda/internal/models"
	"go.uber.org/zap"
)

type UserStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewUserStore(pool *pgxpool.Pool, logger *zap.Logger) *UserStore {
	return &UserStore{pool: pool, logger: logger}
}

const userColumns = `id, email, display_name, password_hash, tenant_id,
	phone, birth_date, specialty, bio, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.PasswordHash,
		&u.TenantID,
		&u.Phone,
		&u.BirthDate,
		&u.Specialty,
		&u.Bio,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row. Postgres generates the UUID and timestamp.
func (s *UserStore) Create(ctx context.Context, u models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, display_name, password_hash, tenant_id,
			phone, birth_date, specialty, bio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING ` + userColumns

	created, err := scanUser(s.pool.QueryRow(ctx, query,
		u.Email, u.DisplayName, u.PasswordHash, u.TenantID,
		u.Phone, u.BirthDate, u.Specialty, u.Bio,
	))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	u, err := scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// Update writes the editable profile columns and the password hash.
func (s *UserStore) Update(ctx context.Context, u models.User) (*models.User, error) {
	query := `
		UPDATE users
		SET display_name = $2, password_hash = $3, phone = $4,
			birth_date = $5, specialty = $6, bio = $7
		WHERE id = $1
		RETURNING ` + userColumns

	updated, err := scanUser(s.pool.QueryRow(ctx, query,
		u.ID, u.DisplayName, u.PasswordHash, u.Phone,
		u.BirthDate, u.Specialty, u.Bio,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

// ListByTenant returns every user with a role in the tenant. The tenant
// role is attached to each user; rows with an unknown role are skipped.
func (s *UserStore) ListByTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.tenant_id,
			u.phone, u.birth_date, u.specialty, u.bio, u.created_at, r.role
		FROM users u
		JOIN user_roles r ON r.user_id = u.id
		WHERE r.tenant_id = $1
		ORDER BY u.display_name`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var (
			u       models.User
			rawRole string
		)
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.DisplayName,
			&u.PasswordHash,
			&u.TenantID,
			&u.Phone,
			&u.BirthDate,
			&u.Specialty,
			&u.Bio,
			&u.CreatedAt,
			&rawRole,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		role, err := models.ParseRole(rawRole)
		if err != nil {
			s.logger.Warn("skipping user with unknown role",
				zap.String("user_id", u.ID.String()),
				zap.String("role", rawRole),
			)
			continue
		}
		users = append(users, u.WithRole(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}
