package syncq

import (
	"encoding/json"
	"fmt"
	"time"

	"backend-tripweave/internal/itinerary"
)

type State string

const (
	StatePending State = "pending"
	StateStalled State = "stalled"
	StateFailed  State = "failed"
)

// Mutation is one entry of the durable log. Entries are removed only once the
// remote store confirmed them.
type Mutation struct {
	Seq           uint64               `json:"seq"`
	Kind          itinerary.ChangeKind `json:"kind"`
	TripID        string               `json:"trip_id"`
	DayNumber     int                  `json:"day_number,omitempty"`
	ActivityID    string               `json:"activity_id,omitempty"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	Attempts      int                  `json:"attempts"`
	LastError     string               `json:"last_error,omitempty"`
	Status        State                `json:"status"`
	NextAttemptAt time.Time            `json:"next_attempt_at,omitempty"`
}

type payload struct {
	Activities []itinerary.Activity `json:"activities,omitempty"`
	Budget     *float64             `json:"budget,omitempty"`
	Trip       *itinerary.Trip      `json:"trip,omitempty"`
}

// NewMutation captures a committed store change as an unsequenced log entry.
func NewMutation(c itinerary.Change) (Mutation, error) {
	switch c.Kind {
	case itinerary.ChangeCreateTrip, itinerary.ChangeReorderDay, itinerary.ChangeDeleteActivity,
		itinerary.ChangeAddActivity, itinerary.ChangeUpdateBudget:
	default:
		return Mutation{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if c.TripID == "" {
		return Mutation{}, fmt.Errorf("%w: %s without trip id", ErrInvalidMutation, c.Kind)
	}

	raw, err := json.Marshal(payload{Activities: c.Activities, Budget: c.Budget, Trip: c.Trip})
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s payload: %w", c.Kind, err)
	}
	return Mutation{
		Kind:       c.Kind,
		TripID:     c.TripID,
		DayNumber:  c.DayNumber,
		ActivityID: c.ActivityID,
		Payload:    raw,
	}, nil
}

// Lane groups entries whose relative order matters. Day-scoped kinds share
// their day's lane; trip-level kinds use lane 0.
func (m Mutation) Lane() int {
	switch m.Kind {
	case itinerary.ChangeReorderDay, itinerary.ChangeDeleteActivity, itinerary.ChangeAddActivity:
		return m.DayNumber
	}
	return 0
}

func (m Mutation) decode() (payload, error) {
	var p payload
	if len(m.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payload{}, err
	}
	return p, nil
}

// Report summarises one drain.
type Report struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Stalled   int `json:"stalled"`
	Failed    int `json:"failed"`
}

func (r *Report) add(o Report) {
	r.Delivered += o.Delivered
	r.Retried += o.Retried
	r.Stalled += o.Stalled
	r.Failed += o.Failed
}

// Summary is the queue state the UI shows ("N changes not yet saved").
type Summary struct {
	Pending  int        `json:"pending"`
	Stalled  int        `json:"stalled"`
	Failed   int        `json:"failed"`
	InFlight uint64     `json:"in_flight,omitempty"`
	Entries  []Mutation `json:"entries"`
}

// Unsynced counts entries the remote store has not confirmed yet.
func (s Summary) Unsynced() int { return s.Pending + s.Stalled + s.Failed }
