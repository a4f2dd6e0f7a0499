package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
)

type AppointmentStore struct {
	pool *pgxpool.Pool
}

func NewAppointmentStore(pool *pgxpool.Pool) *AppointmentStore {
	return &AppointmentStore{pool: pool}
}

const appointmentColumns = `id, tenant_id, client_id, professional_id, service_id,
	start_time, end_time, status, title, notes,
	cancelled_at, cancelled_by, cancellation_reason, reschedule_count,
	previous_appointment, payment_id, recurrence, created_at, updated_at`

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var (
		a      models.Appointment
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ClientID,
		&a.ProfessionalID,
		&a.ServiceID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.Title,
		&a.Notes,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.RescheduleCount,
		&a.PreviousAppointment,
		&a.PaymentID,
		&a.Recurrence,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Status, err = models.ParseAppointmentStatus(status); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *AppointmentStore) Create(ctx context.Context, a models.Appointment) (*models.Appointment, error) {
	query := `
		INSERT INTO appointments (tenant_id, client_id, professional_id, service_id,
			start_time, end_time, status, title, notes, reschedule_count,
			previous_appointment, payment_id, recurrence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING ` + appointmentColumns

	created, err := scanAppointment(s.pool.QueryRow(ctx, query,
		a.TenantID, a.ClientID, a.ProfessionalID, a.ServiceID,
		a.StartTime, a.EndTime, string(a.Status), a.Title, a.Notes, a.RescheduleCount,
		a.PreviousAppointment, a.PaymentID, a.Recurrence,
	))
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (s *AppointmentStore) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1 AND tenant_id = $2`

	a, err := scanAppointment(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// List builds its WHERE clause from the non-zero filter fields. Client and
// professional are OR-ed: "appointments I take part in".
func (s *AppointmentStore) List(ctx context.Context, f repository.AppointmentFilter) ([]models.Appointment, error) {
	args := []any{f.TenantID}
	var who []string
	if f.ClientID != uuid.Nil {
		args = append(args, f.ClientID)
		who = append(who, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if f.ProfessionalID != uuid.Nil {
		args = append(args, f.ProfessionalID)
		who = append(who, fmt.Sprintf("professional_id = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1`
	if len(who) > 0 {
		query += ` AND (` + strings.Join(who, " OR ") + `)`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := make([]models.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return out, nil
}

// Cancel only touches non-terminal rows. (nil, nil) means the appointment
// does not exist or was already cancelled or completed.
func (s *AppointmentStore) Cancel(ctx context.Context, tenantID string, id uuid.UUID, by uuid.UUID, reason string, at time.Time) (*models.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $3, cancelled_by = $4,
			cancellation_reason = $5, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		  AND status NOT IN ('cancelled', 'completed')
		RETURNING ` + appointmentColumns

	a, err := scanAppointment(s.pool.QueryRow(ctx, query, id, tenantID, at, by, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return a, nil
}
