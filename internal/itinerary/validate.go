package itinerary

import (
	"fmt"
	"math"
	"time"
)

// Validate checks every structural invariant of a trip: contiguous 1-based
// days covering the date range, dense per-day orders, consistent day
// assignment, unique ids and well-formed activities.
func Validate(t Trip) error {
	if t.Budget < 0 || math.IsNaN(t.Budget) {
		return fmt.Errorf("%w: negative budget", ErrInvalidTrip)
	}
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() {
		if t.EndDate.Before(t.StartDate) {
			return fmt.Errorf("%w: end date before start date", ErrInvalidTrip)
		}
		if want := DayCount(t.StartDate, t.EndDate); want != len(t.Days) {
			return fmt.Errorf("%w: %d days for a %d day range", ErrInvalidTrip, len(t.Days), want)
		}
	}

	seen := map[string]struct{}{}
	for i, d := range t.Days {
		if d.Number != i+1 {
			return fmt.Errorf("%w: day %d at position %d", ErrInvalidTrip, d.Number, i)
		}
		if !t.StartDate.IsZero() && !d.Date.IsZero() && DayCount(t.StartDate, d.Date) != d.Number {
			return fmt.Errorf("%w: day %d dated %s", ErrInvalidTrip, d.Number, d.Date.Format(time.DateOnly))
		}
		for j, a := range d.Activities {
			if a.Day != d.Number {
				return fmt.Errorf("%w: activity %s assigned to day %d inside day %d", ErrInvalidTrip, a.ID, a.Day, d.Number)
			}
			if a.Order != j {
				return fmt.Errorf("%w: activity %s has order %d at position %d", ErrInvalidTrip, a.ID, a.Order, j)
			}
			if a.ID == "" {
				return fmt.Errorf("%w: activity without id on day %d", ErrInvalidTrip, d.Number)
			}
			if _, dup := seen[a.ID]; dup {
				return fmt.Errorf("%w: duplicate activity id %s", ErrInvalidTrip, a.ID)
			}
			seen[a.ID] = struct{}{}
			if err := validateActivity(a); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTrip, err)
			}
		}
	}
	return nil
}

func validateActivity(a Activity) error {
	if !a.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidActivity, a.Category)
	}
	if a.Rating < 0 || a.Rating > 5 || math.IsNaN(a.Rating) {
		return fmt.Errorf("%w: rating %v outside 0-5", ErrInvalidActivity, a.Rating)
	}
	if a.Cost != nil && (*a.Cost < 0 || math.IsNaN(*a.Cost)) {
		return fmt.Errorf("%w: negative cost", ErrInvalidActivity)
	}
	if a.DurationMin < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidActivity)
	}
	return nil
}

// DayCount returns the number of calendar days between start and end,
// inclusive.
func DayCount(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours()/24) + 1
}

func renumber(d *Day) {
	for i := range d.Activities {
		d.Activities[i].Order = i
		d.Activities[i].Day = d.Number
	}
}
