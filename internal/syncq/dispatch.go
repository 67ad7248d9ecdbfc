package syncq

import (
	"context"
	"fmt"

	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/remote"
)

// Dispatcher delivers mutations through a remote.Adapter. Day-scoped edits
// other than deletes replace the whole day with the ordering captured at
// enqueue time.
type Dispatcher struct {
	adapter remote.Adapter
}

func NewDispatcher(adapter remote.Adapter) *Dispatcher {
	return &Dispatcher{adapter: adapter}
}

func (d *Dispatcher) Deliver(ctx context.Context, m Mutation) error {
	p, err := m.decode()
	if err != nil {
		return remote.Terminal(fmt.Errorf("decode %s payload: %w", m.Kind, err))
	}

	switch m.Kind {
	case itinerary.ChangeCreateTrip:
		if p.Trip == nil {
			return remote.Terminal(fmt.Errorf("%w: create-trip without trip", remote.ErrInvalid))
		}
		return d.adapter.CreateTrip(ctx, *p.Trip)
	case itinerary.ChangeReorderDay, itinerary.ChangeAddActivity:
		activities := p.Activities
		if activities == nil {
			activities = []itinerary.Activity{}
		}
		return d.adapter.ReplaceDayActivities(ctx, m.TripID, m.DayNumber, activities)
	case itinerary.ChangeDeleteActivity:
		return d.adapter.DeleteActivity(ctx, m.TripID, m.ActivityID)
	case itinerary.ChangeUpdateBudget:
		if p.Budget == nil {
			return remote.Terminal(fmt.Errorf("%w: update-budget without amount", remote.ErrInvalid))
		}
		return d.adapter.UpdateBudget(ctx, m.TripID, *p.Budget)
	}
	return remote.Terminal(fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind))
}
