package itinerary

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Store holds the authoritative local copy of one trip. Every structural edit
// is applied to a private copy, saved, recorded, and only then published, so readers
// of Snapshot always see a trip that satisfies Validate.
type Store struct {
	mu       sync.Mutex
	current  atomic.Pointer[Trip]
	recorder Recorder
	persist  func(*Trip) error
	retired  map[string]struct{}
	newID    func() string

	subs    map[int]func(*Trip)
	nextSub int
}

type Option func(*Store)

// WithIDGenerator overrides how ids are assigned to new trips and activities.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithPersist makes fn the durable copy of the trip. It runs before each
// change is recorded; an error rejects the edit.
func WithPersist(fn func(*Trip) error) Option {
	return func(s *Store) { s.persist = fn }
}

func NewStore(recorder Recorder, opts ...Option) *Store {
	s := &Store{
		recorder: recorder,
		retired:  map[string]struct{}{},
		newID:    uuid.NewString,
		subs:     map[int]func(*Trip){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current trip, or nil when none is loaded. The returned
// value is shared and must be treated as read-only.
func (s *Store) Snapshot() *Trip {
	return s.current.Load()
}

// Subscribe registers fn to run after every committed edit. Callbacks run
// while the store lock is held and must not call mutating Store methods.
func (s *Store) Subscribe(fn func(*Trip)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Load restores a previously cached trip without recording a change.
func (s *Store) Load(trip Trip) error {
	if err := Validate(trip); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := trip.clone()
	if err := s.save(next); err != nil {
		return err
	}
	s.current.Store(next)
	s.publish(next)
	return nil
}

// Replace installs a freshly generated trip, superseding the current one,
// and records a create-trip change.
func (s *Store) Replace(trip Trip) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := trip.clone()
	if next.ID == "" {
		next.ID = s.newID()
	}
	for i := range next.Days {
		for j := range next.Days[i].Activities {
			a := &next.Days[i].Activities[j]
			if a.ID == "" {
				a.ID = s.newID()
			}
			if _, used := s.retired[a.ID]; used {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateActivity, a.ID)
			}
		}
	}
	if err := Validate(*next); err != nil {
		return nil, err
	}

	change := Change{Kind: ChangeCreateTrip, TripID: next.ID, Trip: next.clone()}
	if err := s.commit(s.current.Load(), next, &change); err != nil {
		return nil, err
	}
	if prev := s.current.Load(); prev != nil {
		for _, d := range prev.Days {
			for _, a := range d.Activities {
				if _, _, kept := next.FindActivity(a.ID); !kept {
					s.retired[a.ID] = struct{}{}
				}
			}
		}
	}
	s.current.Store(next)
	s.publish(next)
	return next, nil
}

// Reorder moves the activity at from to position to within a day. It reports
// false without recording anything when from == to or the activity is fixed.
func (s *Store) Reorder(dayNumber, from, to int) (bool, error) {
	return s.mutate(func(next *Trip) (edit, error) {
		day, ok := next.DayByNumber(dayNumber)
		if !ok {
			return edit{}, ErrDayNotFound
		}
		n := len(day.Activities)
		if from < 0 || from >= n || to < 0 || to >= n {
			return edit{}, fmt.Errorf("%w: move %d->%d in day of %d", ErrInvalidPosition, from, to, n)
		}
		if from == to || !day.Activities[from].Editable {
			return edit{}, nil
		}

		moved := day.Activities[from]
		rest := make([]Activity, 0, n)
		rest = append(rest, day.Activities[:from]...)
		rest = append(rest, day.Activities[from+1:]...)
		out := make([]Activity, 0, n)
		out = append(out, rest[:to]...)
		out = append(out, moved)
		out = append(out, rest[to:]...)
		day.Activities = out
		renumber(day)

		return edit{change: &Change{
			Kind:       ChangeReorderDay,
			TripID:     next.ID,
			DayNumber:  dayNumber,
			ActivityID: moved.ID,
			Activities: CloneActivities(day.Activities),
		}}, nil
	})
}

// Insert places a new activity at position at of a day.
func (s *Store) Insert(dayNumber int, a Activity, at int) (Activity, error) {
	var inserted Activity
	_, err := s.mutate(func(next *Trip) (edit, error) {
		day, ok := next.DayByNumber(dayNumber)
		if !ok {
			return edit{}, ErrDayNotFound
		}
		n := len(day.Activities)
		if at < 0 || at > n {
			return edit{}, fmt.Errorf("%w: insert at %d in day of %d", ErrInvalidPosition, at, n)
		}
		if err := validateActivity(a); err != nil {
			return edit{}, err
		}
		if a.ID == "" {
			a.ID = s.newID()
		}
		if _, used := s.retired[a.ID]; used {
			return edit{}, fmt.Errorf("%w: %s", ErrDuplicateActivity, a.ID)
		}
		if _, _, exists := next.FindActivity(a.ID); exists {
			return edit{}, fmt.Errorf("%w: %s", ErrDuplicateActivity, a.ID)
		}

		a = CloneActivities([]Activity{a})[0]
		out := make([]Activity, 0, n+1)
		out = append(out, day.Activities[:at]...)
		out = append(out, a)
		out = append(out, day.Activities[at:]...)
		day.Activities = out
		renumber(day)
		inserted = CloneActivities(day.Activities[at : at+1])[0]

		return edit{change: &Change{
			Kind:       ChangeAddActivity,
			TripID:     next.ID,
			DayNumber:  dayNumber,
			ActivityID: a.ID,
			Activities: CloneActivities(day.Activities),
		}}, nil
	})
	if err != nil {
		return Activity{}, err
	}
	return inserted, nil
}

// Remove deletes an editable activity and closes the gap in its day.
func (s *Store) Remove(activityID string) error {
	_, err := s.mutate(func(next *Trip) (edit, error) {
		target, dayNumber, ok := next.FindActivity(activityID)
		if !ok {
			return edit{}, ErrNotFound
		}
		if !target.Editable {
			return edit{}, ErrNotEditable
		}
		day, _ := next.DayByNumber(dayNumber)
		out := make([]Activity, 0, len(day.Activities)-1)
		for _, a := range day.Activities {
			if a.ID != activityID {
				out = append(out, a)
			}
		}
		day.Activities = out
		renumber(day)

		return edit{
			change: &Change{
				Kind:       ChangeDeleteActivity,
				TripID:     next.ID,
				DayNumber:  dayNumber,
				ActivityID: activityID,
				Activities: CloneActivities(day.Activities),
			},
			onCommit: func() { s.retired[activityID] = struct{}{} },
		}, nil
	})
	return err
}

// UpdateBudget changes the trip budget, the only trip field editable after
// generation.
func (s *Store) UpdateBudget(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidBudget
	}
	_, err := s.mutate(func(next *Trip) (edit, error) {
		if next.Budget == amount {
			return edit{}, nil
		}
		next.Budget = amount
		b := amount
		return edit{change: &Change{Kind: ChangeUpdateBudget, TripID: next.ID, Budget: &b}}, nil
	})
	return err
}

func (s *Store) CollapseDay(dayNumber int) error { return s.setCollapsed(dayNumber, true) }

func (s *Store) ExpandDay(dayNumber int) error { return s.setCollapsed(dayNumber, false) }

// display state only; never recorded
func (s *Store) setCollapsed(dayNumber int, collapsed bool) error {
	_, err := s.mutate(func(next *Trip) (edit, error) {
		day, ok := next.DayByNumber(dayNumber)
		if !ok {
			return edit{}, ErrDayNotFound
		}
		if day.Collapsed == collapsed {
			return edit{}, nil
		}
		day.Collapsed = collapsed
		return edit{local: true}, nil
	})
	return err
}

type edit struct {
	change   *Change
	local    bool
	onCommit func()
}

func (s *Store) mutate(fn func(next *Trip) (edit, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil {
		return false, ErrNoTrip
	}
	next := cur.clone()
	e, err := fn(next)
	if err != nil {
		return false, err
	}
	if e.change == nil && !e.local {
		return false, nil
	}
	if err := s.commit(cur, next, e.change); err != nil {
		return false, err
	}
	if e.onCommit != nil {
		e.onCommit()
	}
	s.current.Store(next)
	s.publish(next)
	return true, nil
}

// commit saves next and then records c. When recording fails the saved copy
// is put back to prev.
func (s *Store) commit(prev, next *Trip, c *Change) error {
	if err := s.save(next); err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	if err := s.record(*c); err != nil {
		if prev != nil {
			_ = s.save(prev)
		}
		return err
	}
	return nil
}

func (s *Store) save(t *Trip) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(t); err != nil {
		return fmt.Errorf("save trip: %w", err)
	}
	return nil
}

func (s *Store) record(c Change) error {
	if s.recorder == nil {
		return nil
	}
	if err := s.recorder.Record(c); err != nil {
		return fmt.Errorf("record %s: %w", c.Kind, err)
	}
	return nil
}

func (s *Store) publish(t *Trip) {
	for _, fn := range s.subs {
		fn(t)
	}
}
