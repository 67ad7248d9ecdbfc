package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backend-tripweave/internal/connectivity"
	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/kv"
	"backend-tripweave/internal/planner"
	"backend-tripweave/internal/remote"
	"backend-tripweave/internal/stream"
	"backend-tripweave/internal/syncq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// fiber's app.Test starts fasthttp's server date ticker on first use
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/valyala/fasthttp.updateServerDate.func1"))
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls []string
	fail  func(call string) error
	trip  itinerary.Trip
}

func (f *fakeAdapter) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return err
		}
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeAdapter) setFail(fn func(call string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

func (f *fakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) CreateTrip(_ context.Context, trip itinerary.Trip) error {
	return f.record("create " + trip.ID)
}

func (f *fakeAdapter) ReplaceDayActivities(_ context.Context, tripID string, day int, acts []itinerary.Activity) error {
	ids := make([]string, len(acts))
	for i, a := range acts {
		ids[i] = a.ID
	}
	return f.record(fmt.Sprintf("replace %s/%d %v", tripID, day, ids))
}

func (f *fakeAdapter) DeleteActivity(_ context.Context, tripID, activityID string) error {
	return f.record("delete " + tripID + "/" + activityID)
}

func (f *fakeAdapter) UpdateBudget(_ context.Context, tripID string, amount float64) error {
	return f.record(fmt.Sprintf("budget %s %.0f", tripID, amount))
}

func (f *fakeAdapter) GetTrip(_ context.Context, tripID string) (itinerary.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trip.ID != tripID {
		return itinerary.Trip{}, remote.Terminal(remote.ErrTripNotFound)
	}
	return f.trip, nil
}

func sampleTrip() itinerary.Trip {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return itinerary.Trip{
		ID:          "trip-1",
		Destination: "Lisbon",
		StartDate:   start,
		EndDate:     start.Add(24 * time.Hour),
		Travelers:   2,
		Budget:      1500,
		Currency:    "EUR",
		Mood:        "culture",
		Days: []itinerary.Day{
			{Number: 1, Date: start, Activities: []itinerary.Activity{
				{ID: "arrival", Day: 1, Category: itinerary.CategoryTransport, Title: "Arrival", Order: 0},
				{ID: "lunch", Day: 1, Category: itinerary.CategoryRestaurant, Title: "Lunch", Editable: true, Order: 1},
				{ID: "museum", Day: 1, Category: itinerary.CategoryAttraction, Title: "Museum", Editable: true, Order: 2},
			}},
			{Number: 2, Date: start.Add(24 * time.Hour), Activities: []itinerary.Activity{
				{ID: "A", Day: 2, Category: itinerary.CategoryAttraction, Title: "A", Editable: true, Order: 0},
				{ID: "B", Day: 2, Category: itinerary.CategoryActivity, Title: "B", Editable: true, Order: 1},
				{ID: "C", Day: 2, Category: itinerary.CategoryAttraction, Title: "C", Editable: true, Order: 2},
			}},
		},
	}
}

type fixture struct {
	kv      *kv.Memory
	adapter *fakeAdapter
	monitor *connectivity.Monitor
	hub     *stream.Hub
}

func newFixture(online bool) *fixture {
	return &fixture{
		kv:      kv.NewMemory(),
		adapter: &fakeAdapter{},
		monitor: connectivity.NewMonitor(connectivity.WithQuietPeriod(10*time.Millisecond), connectivity.WithInitialState(online)),
		hub:     stream.NewHub(nil),
	}
}

func (f *fixture) open(t *testing.T, opts ...syncq.Option) *Session {
	t.Helper()
	gen, err := planner.Default()
	require.NoError(t, err)
	s, err := Open(context.Background(), Config{
		ID:           "test",
		KV:           f.kv,
		Adapter:      f.adapter,
		Monitor:      f.monitor,
		Planner:      gen,
		Hub:          f.hub,
		QueueOptions: append([]syncq.Option{syncq.WithBackoff(0, 0)}, opts...),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForCalls(t *testing.T, a *fakeAdapter, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(a.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{ID: "x"})
	require.Error(t, err)
}

func TestReconnectDeliversQueuedEditsInOrder(t *testing.T) {
	f := newFixture(true)
	s := f.open(t)

	_, err := s.Store().Replace(sampleTrip())
	require.NoError(t, err)
	waitForCalls(t, f.adapter, 1)

	f.monitor.Report(false)
	changed, err := s.Store().Reorder(2, 0, 2)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, s.Store().Remove("lunch"))
	require.NoError(t, s.Store().UpdateBudget(1800))

	status := s.Status()
	assert.False(t, status.Online)
	assert.Equal(t, 3, status.Sync.Pending)
	assert.Equal(t, []string{"create trip-1"}, f.adapter.Calls())

	f.monitor.Report(true)
	waitForCalls(t, f.adapter, 4)
	require.Eventually(t, func() bool { return s.Status().Unsynced == 0 }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{
		"create trip-1",
		"replace trip-1/2 [B C A]",
		"delete trip-1/lunch",
		"budget trip-1 1800",
	}, f.adapter.Calls())
}

func TestOfflineEditsSurviveRestart(t *testing.T) {
	f := newFixture(false)
	s := f.open(t)

	_, err := s.Store().Replace(sampleTrip())
	require.NoError(t, err)
	_, err = s.Store().Reorder(2, 2, 0)
	require.NoError(t, err)
	require.NoError(t, s.Store().CollapseDay(1))
	require.NoError(t, s.Close())

	reopened := f.open(t)
	trip := reopened.Trip()
	require.NotNil(t, trip)
	day, ok := trip.DayByNumber(2)
	require.True(t, ok)
	assert.Equal(t, "C", day.Activities[0].ID)
	first, _ := trip.DayByNumber(1)
	assert.True(t, first.Collapsed)
	assert.Equal(t, 2, reopened.Status().Sync.Pending)
	assert.Empty(t, f.adapter.Calls())

	f.monitor.Report(true)
	waitForCalls(t, f.adapter, 2)
	assert.Equal(t, []string{"create trip-1", "replace trip-1/2 [C A B]"}, f.adapter.Calls())
}

// cacheFailingKV rejects writes of the cached trip while failCache is set.
type cacheFailingKV struct {
	*kv.Memory
	mu        sync.Mutex
	failCache bool
}

func (k *cacheFailingKV) setFailCache(v bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failCache = v
}

func (k *cacheFailingKV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	fail := k.failCache && key == CacheKey("test")
	k.mu.Unlock()
	if fail {
		return errors.New("storage quota exceeded")
	}
	return k.Memory.Set(ctx, key, value)
}

func TestCacheWriteFailureRejectsEdit(t *testing.T) {
	f := newFixture(false)
	store := &cacheFailingKV{Memory: f.kv}
	gen, err := planner.Default()
	require.NoError(t, err)
	openSession := func() *Session {
		s, err := Open(context.Background(), Config{
			ID: "test", KV: store, Adapter: f.adapter, Monitor: f.monitor, Planner: gen,
			QueueOptions: []syncq.Option{syncq.WithBackoff(0, 0)},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	s := openSession()
	_, err = s.Store().Replace(sampleTrip())
	require.NoError(t, err)
	before := s.Trip()

	store.setFailCache(true)
	_, err = s.Store().Reorder(2, 0, 2)
	require.ErrorContains(t, err, "storage quota exceeded")
	assert.Same(t, before, s.Trip())
	assert.Equal(t, 1, s.Status().Sync.Pending)
	require.NoError(t, s.Close())

	store.setFailCache(false)
	reopened := openSession()
	day, ok := reopened.Trip().DayByNumber(2)
	require.True(t, ok)
	assert.Equal(t, "A", day.Activities[0].ID)
	assert.Equal(t, 1, reopened.Status().Sync.Pending)

	f.monitor.Report(true)
	waitForCalls(t, f.adapter, 1)
	require.Eventually(t, func() bool { return reopened.Status().Unsynced == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"create trip-1"}, f.adapter.Calls())
}

func TestInvalidCacheIsDiscarded(t *testing.T) {
	f := newFixture(false)
	bad := sampleTrip()
	bad.Days[1].Activities[0].Order = 7
	raw, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, f.kv.Set(context.Background(), CacheKey("test"), raw))

	s := f.open(t)
	assert.Nil(t, s.Trip())
}

func TestCorruptCacheFailsOpen(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.kv.Set(context.Background(), CacheKey("test"), []byte("{")))

	gen, err := planner.Default()
	require.NoError(t, err)
	_, err = Open(context.Background(), Config{ID: "test", KV: f.kv, Adapter: f.adapter, Monitor: f.monitor, Planner: gen})
	require.Error(t, err)
}

func TestStalledDayDoesNotBlockOtherDays(t *testing.T) {
	f := newFixture(false)
	s := f.open(t, syncq.WithMaxAttempts(1))

	_, err := s.Store().Replace(sampleTrip())
	require.NoError(t, err)
	_, err = s.Store().Reorder(2, 0, 1)
	require.NoError(t, err)
	_, err = s.Store().Reorder(1, 1, 2)
	require.NoError(t, err)

	f.adapter.setFail(func(call string) error {
		if call == "replace trip-1/2 [B A C]" {
			return remote.Transient(errors.New("gateway timeout"))
		}
		return nil
	})
	f.monitor.Report(true)

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Sync.Stalled == 1 && st.Sync.Pending == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"create trip-1", "replace trip-1/1 [arrival museum lunch]"}, f.adapter.Calls())

	f.adapter.setFail(nil)
	stalled := s.Status().Sync.Entries[0]
	require.NoError(t, s.Queue().Retry(stalled.Seq))
	require.Eventually(t, func() bool { return s.Status().Unsynced == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestDrainRefusesWhileOffline(t *testing.T) {
	f := newFixture(false)
	s := f.open(t)

	_, err := s.Drain(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
}

func TestGenerateReplacesTrip(t *testing.T) {
	f := newFixture(false)
	s := f.open(t)

	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	trip, err := s.Generate(planner.Request{
		Destination: "Kyoto",
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 2),
		Travelers:   1,
		Budget:      2000,
		Currency:    "JPY",
		Mood:        "foodie",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, trip.ID)
	assert.Len(t, trip.Days, 3)
	assert.Same(t, trip, s.Trip())

	entries := s.Status().Sync.Entries
	require.Len(t, entries, 1)
	assert.Equal(t, itinerary.ChangeCreateTrip, entries[0].Kind)

	_, err = s.Generate(planner.Request{Destination: "Kyoto"})
	assert.ErrorIs(t, err, planner.ErrInvalidRequest)
}

func TestPull(t *testing.T) {
	f := newFixture(true)
	s := f.open(t)

	_, err := s.Pull(context.Background())
	assert.ErrorIs(t, err, itinerary.ErrNoTrip)

	f.monitor.Report(false)
	_, err = s.Store().Replace(sampleTrip())
	require.NoError(t, err)
	_, err = s.Pull(context.Background())
	assert.ErrorIs(t, err, ErrOffline)

	f.monitor.Report(true)
	waitForCalls(t, f.adapter, 1)
	require.Eventually(t, func() bool { return s.Status().Unsynced == 0 }, time.Second, 5*time.Millisecond)

	f.adapter.setFail(func(string) error { return remote.Terminal(remote.ErrInvalid) })
	require.NoError(t, s.Store().UpdateBudget(10))
	require.Eventually(t, func() bool { return s.Status().Sync.Failed == 1 }, time.Second, 5*time.Millisecond)
	_, err = s.Pull(context.Background())
	assert.ErrorIs(t, err, ErrUnsyncedChanges)

	f.adapter.setFail(nil)
	require.NoError(t, s.Queue().Dismiss(s.Status().Sync.Entries[0].Seq))

	remoteCopy := sampleTrip()
	remoteCopy.Budget = 99
	f.adapter.mu.Lock()
	f.adapter.trip = remoteCopy
	f.adapter.mu.Unlock()

	trip, err := s.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99.0, trip.Budget)
	assert.Equal(t, 0, s.Status().Unsynced)
}

func TestStatusIsPushedToStream(t *testing.T) {
	f := newFixture(false)
	s := f.open(t)
	client := f.hub.Register(s.ID())
	defer f.hub.Unregister(client)

	_, err := s.Store().Replace(sampleTrip())
	require.NoError(t, err)

	select {
	case msg := <-client.Send:
		var st Status
		require.NoError(t, json.Unmarshal(msg, &st))
		assert.Equal(t, "test", st.Session)
		assert.False(t, st.Online)
		assert.Equal(t, 1, st.Unsynced)
	case <-time.After(time.Second):
		t.Fatal("no status pushed")
	}

	assert.NotNil(t, s.StatusSnapshot("test"))
	assert.Nil(t, s.StatusSnapshot("other"))
}
