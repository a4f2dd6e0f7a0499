package tenant

import (
	"context"
	"time"

	"github.com/lalith-99/agenda/internal/models"
)

// Directory looks a tenant up by subdomain. (nil, nil) is a miss.
type Directory interface {
	GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
}

// Chain asks each directory in turn and returns the first hit. An error
// stops the chain; the resolver decides what an error means.
type Chain []Directory

func (c Chain) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	for _, d := range c {
		t, err := d.GetBySubdomain(ctx, subdomain)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// StaticDirectory serves tenants from memory. It backs the built-in demo
// tenants and tests.
type StaticDirectory map[string]models.Tenant

func (s StaticDirectory) GetBySubdomain(_ context.Context, subdomain string) (*models.Tenant, error) {
	t, ok := s[subdomain]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// DefaultTenant is the configuration used when nothing else resolves.
func DefaultTenant() models.Tenant {
	trialEnds := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
	return models.Tenant{
		ID:        "default",
		Name:      "Demo Clinic",
		Subdomain: "demo",
		Theme:     models.ThemeDefault,
		Features: models.Features{
			WhatsappNotifications: true,
			EmailNotifications:    true,
			FinancialModule:       true,
			WaitingList:           true,
			RecurrentAppointments: true,
		},
		Settings: models.TenantSettings{
			AppointmentDuration: 30,
			WorkingHours:        models.WorkingHours{Start: "09:00", End: "18:00"},
			WorkingDays:         []int{1, 2, 3, 4, 5},
			CancellationPolicy: models.CancellationPolicy{
				TimeBeforeInHours: 24,
				PenaltyPercentage: 50,
			},
		},
		SubscriptionStatus: models.SubscriptionTrial,
		TrialEndsAt:        &trialEnds,
	}
}

// BuiltinDirectory returns the demo tenants: a generic clinic, a dental
// clinic, a barbershop and a beauty salon.
func BuiltinDirectory() StaticDirectory {
	base := DefaultTenant()

	variant := func(id, name, subdomain string, theme models.Theme, duration int, days []int) models.Tenant {
		t := base
		t.ID = id
		t.Name = name
		t.Subdomain = subdomain
		t.Theme = theme
		t.Settings.AppointmentDuration = duration
		t.Settings.WorkingDays = days
		return t
	}
	weekdays := []int{1, 2, 3, 4, 5}
	withSaturday := []int{1, 2, 3, 4, 5, 6}

	return StaticDirectory{
		"demo":   base,
		"dental": variant("dental-clinic", "Smile Dental Clinic", "dental", models.ThemeDental, 60, weekdays),
		"barber": variant("barber-shop", "Classic Barber Shop", "barber", models.ThemeBarber, 45, withSaturday),
		"salon":  variant("beauty-salon", "Glamour Beauty Salon", "salon", models.ThemeSalon, 90, withSaturday),
	}
}
