package itinerary

type ChangeKind string

const (
	ChangeCreateTrip     ChangeKind = "create-trip"
	ChangeReorderDay     ChangeKind = "reorder-day"
	ChangeDeleteActivity ChangeKind = "delete-activity"
	ChangeAddActivity    ChangeKind = "add-activity"
	ChangeUpdateBudget   ChangeKind = "update-budget"
)

// Change describes one committed structural edit. Day-scoped kinds carry the
// full ordering of the affected day after the edit.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	TripID     string     `json:"trip_id"`
	DayNumber  int        `json:"day_number,omitempty"`
	ActivityID string     `json:"activity_id,omitempty"`
	Activities []Activity `json:"activities,omitempty"`
	Budget     *float64   `json:"budget,omitempty"`
	Trip       *Trip      `json:"trip,omitempty"`
}

// Recorder durably records a change before the store commits it. A Recorder
// error aborts the edit.
type Recorder interface {
	Record(Change) error
}

type RecorderFunc func(Change) error

func (f RecorderFunc) Record(c Change) error { return f(c) }
