package itinerary

import "errors"

var (
	ErrInvalidPosition   = errors.New("invalid position")
	ErrDayNotFound       = errors.New("day not found")
	ErrNotFound          = errors.New("activity not found")
	ErrNotEditable       = errors.New("activity not editable")
	ErrInvalidActivity   = errors.New("invalid activity")
	ErrDuplicateActivity = errors.New("activity id already used")
	ErrInvalidBudget     = errors.New("invalid budget")
	ErrInvalidTrip       = errors.New("invalid trip")
	ErrNoTrip            = errors.New("no trip loaded")
)
