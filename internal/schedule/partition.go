// Package schedule splits a participant's appointments into the two lists
// shown on "my appointments": what is coming up and what already happened.
package schedule

import (
	"sort"
	"time"

	"github.com/lalith-99/agenda/internal/models"
)

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Partition splits appts around the start of today.
//
// "Today" is midnight of now in loc, computed once, so every appointment
// is compared against the same boundary. Appointments starting at or
// after it are upcoming (earliest first); the rest are past (most recent
// first). Equal start times are ordered by ID so the result does not
// depend on input order.
//
// Cancelled appointments are not filtered out. appts is never modified.
func Partition(appts []models.Appointment, now time.Time, loc *time.Location) (upcoming, past []models.Appointment) {
	today := StartOfDay(now, loc)

	upcoming = make([]models.Appointment, 0, len(appts))
	past = make([]models.Appointment, 0)
	for _, a := range appts {
		if a.StartTime.Before(today) {
			past = append(past, a)
		} else {
			upcoming = append(upcoming, a)
		}
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		a, b := upcoming[i], upcoming[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID.String() < b.ID.String()
	})
	sort.SliceStable(past, func(i, j int) bool {
		a, b := past[i], past[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.ID.String() < b.ID.String()
	})

	return upcoming, past
}
