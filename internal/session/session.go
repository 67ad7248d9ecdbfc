// Package session runs one local-first trip session: the itinerary store, the
// sync queue that records its edits, and the connectivity monitor that decides
// when the queue drains.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-tripweave/internal/connectivity"
	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/kv"
	"backend-tripweave/internal/logging"
	"backend-tripweave/internal/planner"
	"backend-tripweave/internal/remote"
	"backend-tripweave/internal/stream"
	"backend-tripweave/internal/syncq"

	"go.uber.org/zap"
)

const cacheTimeout = 5 * time.Second

var (
	ErrOffline         = errors.New("offline")
	ErrUnsyncedChanges = errors.New("local changes not yet saved")
)

type Config struct {
	ID      string
	KV      kv.Store
	Adapter remote.Adapter
	Monitor *connectivity.Monitor
	Planner *planner.Generator
	// Hub is optional; when set, status changes are pushed to stream clients.
	Hub          *stream.Hub
	Logger       *zap.Logger
	QueueOptions []syncq.Option
}

type Session struct {
	id      string
	kv      kv.Store
	adapter remote.Adapter
	store   *itinerary.Store
	queue   *syncq.Queue
	monitor *connectivity.Monitor
	planner *planner.Generator
	hub     *stream.Hub
	log     *zap.Logger

	unsubscribe []func()
}

// Status is what the UI shows next to the itinerary.
type Status struct {
	Session  string        `json:"session"`
	Online   bool          `json:"online"`
	Unsynced int           `json:"unsynced"`
	Sync     syncq.Summary `json:"sync"`
}

func LogKey(id string) string { return "sync/" + id + "/log" }
func CacheKey(id string) string { return "trip/" + id + "/current" }

// Open restores the session's sync log and cached itinerary from cfg.KV and
// starts draining whenever the monitor reports a reconnect.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ID == "" {
		return nil, errors.New("session id required")
	}
	if cfg.KV == nil || cfg.Adapter == nil || cfg.Monitor == nil || cfg.Planner == nil {
		return nil, errors.New("session: kv, adapter, monitor and planner are required")
	}
	log := logging.OrNop(cfg.Logger).With(zap.String("session", cfg.ID))

	opts := []syncq.Option{
		syncq.WithLogger(log),
		syncq.WithGate(cfg.Monitor.Online),
		syncq.WithAutoDrain(),
	}
	queue, err := syncq.Open(ctx, cfg.KV, LogKey(cfg.ID), syncq.NewDispatcher(cfg.Adapter), append(opts, cfg.QueueOptions...)...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:      cfg.ID,
		kv:      cfg.KV,
		adapter: cfg.Adapter,
		queue:   queue,
		monitor: cfg.Monitor,
		planner: cfg.Planner,
		hub:     cfg.Hub,
		log:     log,
	}
	s.store = itinerary.NewStore(queue, itinerary.WithPersist(s.cache))

	if err := s.restore(ctx); err != nil {
		_ = queue.Close()
		return nil, err
	}

	s.unsubscribe = append(s.unsubscribe,
		cfg.Monitor.OnReconnect(queue.Kick),
		queue.Subscribe(func(syncq.Summary) { s.publish() }),
		cfg.Monitor.OnChange(func(bool) { s.publish() }),
	)

	// Work left over from a previous run goes out as soon as we are online.
	queue.Kick()
	return s, nil
}

func (s *Session) restore(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, CacheKey(s.id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cached trip: %w", err)
	}
	var trip itinerary.Trip
	if err := json.Unmarshal(raw, &trip); err != nil {
		return fmt.Errorf("decode cached trip: %w", err)
	}
	err = s.store.Load(trip)
	if errors.Is(err, itinerary.ErrInvalidTrip) {
		s.log.Warn("discarding invalid cached trip", zap.Error(err))
		return nil
	}
	return err
}

// cache runs under the store lock before each change is queued, so the cached
// trip is never older than the sync log.
func (s *Session) cache(t *itinerary.Trip) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trip for cache: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, CacheKey(s.id), raw); err != nil {
		return fmt.Errorf("cache trip: %w", err)
	}
	return nil
}

func (s *Session) publish() {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(s.id, s.Status()); err != nil {
		s.log.Error("broadcast status", zap.Error(err))
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Store() *itinerary.Store { return s.store }
func (s *Session) Queue() *syncq.Queue { return s.queue }
func (s *Session) Trip() *itinerary.Trip { return s.store.Snapshot() }
func (s *Session) Monitor() *connectivity.Monitor { return s.monitor }

func (s *Session) Status() Status {
	sum := s.queue.Status()
	return Status{
		Session:  s.id,
		Online:   s.monitor.Online(),
		Unsynced: sum.Unsynced(),
		Sync:     sum,
	}
}

// StatusSnapshot encodes the status for a stream client of sessionID, or
// returns nil for other sessions.
func (s *Session) StatusSnapshot(sessionID string) []byte {
	if sessionID != s.id {
		return nil
	}
	raw, err := json.Marshal(s.Status())
	if err != nil {
		return nil
	}
	return raw
}

// Generate builds a new itinerary from req and makes it the session's trip.
func (s *Session) Generate(req planner.Request) (*itinerary.Trip, error) {
	trip, err := s.planner.Generate(req)
	if err != nil {
		return nil, err
	}
	return s.store.Replace(trip)
}

// Drain delivers pending work now. It refuses to run while offline.
func (s *Session) Drain(ctx context.Context) (syncq.Report, error) {
	if !s.monitor.Online() {
		return syncq.Report{}, ErrOffline
	}
	return s.queue.Drain(ctx)
}

// Pull replaces the local trip with the remote copy. It refuses while local
// changes are unsaved, since the remote copy would roll them back.
func (s *Session) Pull(ctx context.Context) (*itinerary.Trip, error) {
	cur := s.store.Snapshot()
	if cur == nil {
		return nil, itinerary.ErrNoTrip
	}
	if !s.monitor.Online() {
		return nil, ErrOffline
	}
	if s.queue.Status().Unsynced() > 0 {
		return nil, ErrUnsyncedChanges
	}
	trip, err := s.adapter.GetTrip(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Load(trip); err != nil {
		return nil, err
	}
	return s.store.Snapshot(), nil
}

// Close detaches from the monitor and stops the queue. Pending entries stay
// in the log for the next Open.
func (s *Session) Close() error {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	return s.queue.Close()
}
