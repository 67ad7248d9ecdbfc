// Package remote defines the persistence adapter the sync queue delivers to,
// and how delivery failures are classified.
package remote

import (
	"context"
	"errors"

	"backend-tripweave/internal/itinerary"
)

// Adapter is the narrow contract of the hosted store. Every call may fail with
// a transient or terminal error.
type Adapter interface {
	CreateTrip(ctx context.Context, trip itinerary.Trip) error
	ReplaceDayActivities(ctx context.Context, tripID string, dayNumber int, activities []itinerary.Activity) error
	DeleteActivity(ctx context.Context, tripID, activityID string) error
	UpdateBudget(ctx context.Context, tripID string, budget float64) error
	GetTrip(ctx context.Context, tripID string) (itinerary.Trip, error)
}

var (
	ErrTransient = errors.New("transient delivery error")
	ErrTerminal  = errors.New("terminal delivery error")

	ErrTripNotFound = errors.New("trip not found")
	ErrInvalid      = errors.New("invalid payload")
)

type deliveryError struct {
	kind error
	err  error
}

func (e *deliveryError) Error() string   { return e.err.Error() }
func (e *deliveryError) Unwrap() []error { return []error{e.kind, e.err} }

// Transient marks err as retryable (network failures, backend outages).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &deliveryError{kind: ErrTransient, err: err}
}

// Terminal marks err as permanent (validation or auth failures).
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &deliveryError{kind: ErrTerminal, err: err}
}

// IsTerminal reports whether err must not be retried. Unclassified errors are
// treated as transient.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
