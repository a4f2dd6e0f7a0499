package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a privilege level within a tenant.
//
// Roles arrive as strings from the database, JSON bodies and cached
// sessions. ParseRole is the only way a string becomes a Role, so an
// unknown value never travels further than the ingestion point.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleAdmin        Role = "admin"
	RoleProfessional Role = "professional"
	RoleClient       Role = "client"
	// RoleMaster is the platform-level override. It satisfies every
	// per-tenant role check.
	RoleMaster Role = "master"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSuperAdmin, RoleAdmin, RoleProfessional, RoleClient, RoleMaster:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) String() string { return string(r) }

// UnmarshalText lets encoding/json and gin binding reject unknown roles.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Tenant is an isolated customer organization (a clinic, a barbershop).
// Subdomain is the unique key used to resolve it from a request host.
type Tenant struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Subdomain          string             `json:"subdomain"`
	Logo               *string            `json:"logo"`
	Theme              Theme              `json:"theme"`
	CustomColors       *CustomColors      `json:"custom_colors,omitempty"`
	Features           Features           `json:"features"`
	Settings           TenantSettings     `json:"settings"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at"`
}

type Theme string

const (
	ThemeDefault Theme = "default"
	ThemeDental  Theme = "dental"
	ThemeBarber  Theme = "barber"
	ThemeSalon   Theme = "salon"
	ThemeCustom  Theme = "custom"
)

func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeDefault, ThemeDental, ThemeBarber, ThemeSalon, ThemeCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

type CustomColors struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Accent    string `json:"accent"`
}

type Features struct {
	WhatsappNotifications bool `json:"whatsapp_notifications"`
	EmailNotifications    bool `json:"email_notifications"`
	FinancialModule       bool `json:"financial_module"`
	WaitingList           bool `json:"waiting_list"`
	RecurrentAppointments bool `json:"recurrent_appointments"`
}

type TenantSettings struct {
	// AppointmentDuration is the default slot length in minutes.
	AppointmentDuration int                `json:"appointment_duration"`
	WorkingHours        WorkingHours       `json:"working_hours"`
	WorkingDays         []int              `json:"working_days"` // 0 = Sunday
	CancellationPolicy  CancellationPolicy `json:"cancellation_policy"`
}

// WorkingHours uses "HH:MM" strings in the tenant's local time.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CancellationPolicy struct {
	TimeBeforeInHours int `json:"time_before_in_hours"`
	PenaltyPercentage int `json:"penalty_percentage"`
}

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionTrial, SubscriptionActive, SubscriptionPastDue, SubscriptionCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

// User is a person that can sign in to one or more tenants.
//
// Role is a pointer on purpose: nil means "not carried", and the role
// resolver must look it up. A non-nil role is trusted as-is.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         *Role     `json:"role,omitempty"`
	TenantID     string    `json:"tenant_id"`
	Phone        string    `json:"phone,omitempty"`
	BirthDate    string    `json:"birth_date,omitempty"`
	Specialty    string    `json:"specialty,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// WithRole returns a copy of u carrying role r.
func (u User) WithRole(r Role) User {
	u.Role = &r
	return u
}

// RoleAssignment relates a user to a role inside one tenant. A user can
// hold different roles in different tenants.
type RoleAssignment struct {
	UserID    uuid.UUID `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusInProgress  AppointmentStatus = "in_progress"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusWaitingList AppointmentStatus = "waiting_list"
)

var ErrUnknownStatus = errors.New("unknown appointment status")

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(s); st {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusRescheduled, StatusWaitingList:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s *AppointmentStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseAppointmentStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Appointment is a booked slot between a client and a professional.
type Appointment struct {
	ID                  uuid.UUID            `json:"id"`
	TenantID            string               `json:"tenant_id"`
	ClientID            uuid.UUID            `json:"client_id"`
	ProfessionalID      uuid.UUID            `json:"professional_id"`
	ServiceID           *string              `json:"service_id,omitempty"`
	StartTime           time.Time            `json:"start_time"`
	EndTime             time.Time            `json:"end_time"`
	Status              AppointmentStatus    `json:"status"`
	Title               string               `json:"title"`
	Notes               string               `json:"notes,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	CancelledBy         *uuid.UUID           `json:"cancelled_by,omitempty"`
	CancellationReason  string               `json:"cancellation_reason,omitempty"`
	RescheduleCount     int                  `json:"reschedule_count"`
	PreviousAppointment *PreviousAppointment `json:"previous_appointment,omitempty"`
	PaymentID           *string              `json:"payment_id,omitempty"`
	Recurrence          *Recurrence          `json:"recurrence,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// IsTerminal reports whether the appointment can no longer change
// outside an administrative correction.
func (a Appointment) IsTerminal() bool {
	return a.Status == StatusCancelled || a.Status == StatusCompleted
}

var ErrInvalidTimeRange = errors.New("end time must be after start time")

// Validate checks the invariants that hold for every stored appointment.
func (a Appointment) Validate() error {
	if !a.EndTime.After(a.StartTime) {
		return ErrInvalidTimeRange
	}
	if a.RescheduleCount < 0 {
		return fmt.Errorf("reschedule count must be non-negative, got %d", a.RescheduleCount)
	}
	if a.Recurrence != nil {
		if err := a.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type PreviousAppointment struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy uuid.UUID `json:"changed_by"`
}

type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
)

type Recurrence struct {
	Pattern  RecurrencePattern `json:"pattern"`
	Interval int               `json:"interval"`
	EndDate  time.Time         `json:"end_date"`
}

func (r Recurrence) Validate() error {
	switch r.Pattern {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
	default:
		return fmt.Errorf("unknown recurrence pattern %q", r.Pattern)
	}
	if r.Interval < 1 {
		return fmt.Errorf("recurrence interval must be at least 1, got %d", r.Interval)
	}
	return nil
}
