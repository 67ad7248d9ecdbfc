// Package syncq keeps the ordered, durable log of structural edits that still
// have to reach the remote store, and drains it.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/kv"
	"backend-tripweave/internal/logging"
	"backend-tripweave/internal/remote"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrClosed          = errors.New("sync queue closed")
	ErrUnknownEntry    = errors.New("no such queue entry")
	ErrEntryActive     = errors.New("queue entry is still pending")
	ErrNotStalled      = errors.New("queue entry is not stalled")
	ErrUnknownKind     = errors.New("unknown mutation kind")
	ErrInvalidMutation = errors.New("invalid mutation")
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 2 * time.Minute
	DefaultMaxAttempts = 5

	persistTimeout = 5 * time.Second
	drainKey       = "drain"
)

// Deliverer pushes one mutation to the remote store. Errors are classified
// with remote.IsTerminal; anything else is retried.
type Deliverer interface {
	Deliver(ctx context.Context, m Mutation) error
}

type DelivererFunc func(ctx context.Context, m Mutation) error

func (f DelivererFunc) Deliver(ctx context.Context, m Mutation) error { return f(ctx, m) }

type Option func(*Queue)

func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) {
		q.baseDelay = base
		q.maxDelay = max
	}
}

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithJitter replaces the source of backoff jitter; fn returns a value in
// [0, n).
func WithJitter(fn func(n int64) int64) Option {
	return func(q *Queue) { q.jitter = fn }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(q *Queue) { q.limiter = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.log = logging.OrNop(l) }
}

// WithGate makes background drains (Kick, retry timers) wait until open
// reports true. Explicit Drain calls ignore the gate.
func WithGate(open func() bool) Option {
	return func(q *Queue) { q.gate = open }
}

// WithAutoDrain kicks a background drain after every enqueue.
func WithAutoDrain() Option {
	return func(q *Queue) { q.autoDrain = true }
}

type Queue struct {
	store   kv.Store
	key     string
	deliver Deliverer
	log     *zap.Logger

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	now         func() time.Time
	jitter      func(int64) int64
	limiter     *rate.Limiter
	gate        func() bool
	autoDrain   bool

	mu       sync.Mutex
	entries  []Mutation
	nextSeq  uint64
	inflight uint64
	dirty    bool
	closed   bool
	timer    *time.Timer
	subs     map[int]func(Summary)
	nextSub  int

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type logDoc struct {
	NextSeq uint64     `json:"next_seq"`
	Entries []Mutation `json:"entries"`
}

// Open loads the log stored under key, or starts an empty one. Entries left
// from a previous process keep their sequence numbers and status.
func Open(ctx context.Context, store kv.Store, key string, d Deliverer, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:       store,
		key:         key,
		deliver:     d,
		log:         zap.NewNop(),
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		jitter:      rand.Int63n,
		nextSeq:     1,
		subs:        map[int]func(Summary){},
	}
	for _, opt := range opts {
		opt(q)
	}

	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load sync log: %w", err)
	default:
		var doc logDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode sync log: %w", err)
		}
		sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].Seq < doc.Entries[j].Seq })
		q.entries = doc.Entries
		q.nextSeq = doc.NextSeq
		if n := len(q.entries); n > 0 && q.entries[n-1].Seq >= q.nextSeq {
			q.nextSeq = q.entries[n-1].Seq + 1
		}
		if q.nextSeq == 0 {
			q.nextSeq = 1
		}
		q.dirty = len(q.entries) > 0
	}

	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.log.Info("sync log opened", zap.String("key", key), zap.Int("entries", len(q.entries)))
	return q, nil
}

// Record implements itinerary.Recorder.
func (q *Queue) Record(c itinerary.Change) error {
	m, err := NewMutation(c)
	if err != nil {
		return err
	}
	_, err = q.Enqueue(m)
	return err
}

// Enqueue assigns the next sequence number to m and persists the log before
// returning. A reorder-day entry removes every earlier pending or stalled
// reorder-day entry for the same day that is not being delivered.
func (q *Queue) Enqueue(m Mutation) (Mutation, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Mutation{}, ErrClosed
	}

	m.Seq = q.nextSeq
	m.CreatedAt = q.now().UTC()
	m.Status = StatePending
	m.Attempts = 0
	m.LastError = ""
	m.NextAttemptAt = time.Time{}

	next := make([]Mutation, 0, len(q.entries)+1)
	var superseded []uint64
	for _, e := range q.entries {
		if q.supersedes(m, e) {
			superseded = append(superseded, e.Seq)
			continue
		}
		next = append(next, e)
	}
	next = append(next, m)

	if err := q.persist(next, q.nextSeq+1); err != nil {
		q.mu.Unlock()
		return Mutation{}, err
	}
	q.entries = next
	q.nextSeq++
	q.dirty = true
	summary := q.summaryLocked()
	q.mu.Unlock()

	q.log.Debug("mutation enqueued",
		zap.Uint64("seq", m.Seq),
		zap.String("kind", string(m.Kind)),
		zap.Int("day", m.DayNumber),
		zap.Uint64s("superseded", superseded),
	)
	q.notify(summary)
	if q.autoDrain {
		q.Kick()
	}
	return m, nil
}

func (q *Queue) supersedes(m, e Mutation) bool {
	return m.Kind == itinerary.ChangeReorderDay &&
		e.Kind == itinerary.ChangeReorderDay &&
		e.TripID == m.TripID &&
		e.DayNumber == m.DayNumber &&
		e.Seq != q.inflight &&
		e.Status != StateFailed
}

// Drain delivers eligible entries in sequence order until none is left.
// Concurrent calls join the drain already running. Entries enqueued after the
// last scan of a joined drain trigger another pass.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	return q.run(ctx, false)
}

// Kick starts a background drain when the gate is open. A background drain
// stops picking entries as soon as the gate closes.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.closed || !q.gateOpenLocked() {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		_, err := q.run(q.ctx, true)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			q.log.Warn("background drain failed", zap.Error(err))
		}
	}()
}

func (q *Queue) run(ctx context.Context, gated bool) (Report, error) {
	var total Report
	for {
		v, err, _ := q.group.Do(drainKey, func() (any, error) {
			return q.drain(ctx, gated)
		})
		if r, ok := v.(Report); ok {
			total.add(r)
		}
		if err != nil || !q.takeDirty() {
			return total, err
		}
	}
}

func (q *Queue) drain(ctx context.Context, gated bool) (Report, error) {
	var report Report
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m, ok, err := q.next(gated)
		if err != nil || !ok {
			return report, err
		}

		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				q.release(m.Seq)
				return report, err
			}
		}

		err = q.deliver.Deliver(ctx, m)
		if err != nil && ctx.Err() != nil {
			// shutdown mid-delivery is not an attempt
			q.release(m.Seq)
			return report, ctx.Err()
		}
		q.settle(m, err, &report)
	}
}

func (q *Queue) gateOpenLocked() bool {
	return q.gate == nil || q.gate()
}

// next picks the first eligible entry and marks it in flight. Entries that
// are stalled or waiting out a backoff block their lane; an undelivered
// create-trip blocks everything after it.
func (q *Queue) next(gated bool) (Mutation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Mutation{}, false, ErrClosed
	}
	if gated && !q.gateOpenLocked() {
		// the reconnect kick resumes from here
		return Mutation{}, false, nil
	}
	q.dirty = false

	now := q.now()
	blocked := map[int]bool{}
	for _, e := range q.entries {
		if e.Status == StateFailed {
			continue
		}
		lane := e.Lane()
		eligible := !blocked[lane] && e.Status == StatePending && !e.NextAttemptAt.After(now)
		if eligible {
			q.inflight = e.Seq
			return e, true, nil
		}
		if e.Kind == itinerary.ChangeCreateTrip {
			// nothing after an undelivered create-trip may reach the remote
			break
		}
		blocked[lane] = true
	}
	q.scheduleRetryLocked(now)
	return Mutation{}, false, nil
}

func (q *Queue) release(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight == seq {
		q.inflight = 0
	}
}

func (q *Queue) settle(m Mutation, deliverErr error, report *Report) {
	q.mu.Lock()
	q.inflight = 0
	idx := q.indexLocked(m.Seq)
	if idx < 0 {
		q.mu.Unlock()
		return
	}

	next := append([]Mutation(nil), q.entries...)
	e := &next[idx]
	switch {
	case deliverErr == nil:
		next = append(next[:idx], next[idx+1:]...)
		report.Delivered++
	case remote.IsTerminal(deliverErr):
		e.Attempts++
		e.LastError = deliverErr.Error()
		e.Status = StateFailed
		report.Failed++
	default:
		e.Attempts++
		e.LastError = deliverErr.Error()
		if e.Attempts >= q.maxAttempts {
			e.Status = StateStalled
			report.Stalled++
		} else {
			e.NextAttemptAt = q.now().Add(backoff(e.Attempts, q.baseDelay, q.maxDelay, q.jitter))
			report.Retried++
		}
	}
	settled := *e
	if deliverErr == nil {
		settled = m
	}

	if err := q.persist(next, q.nextSeq); err != nil {
		q.log.Error("persist sync log", zap.Uint64("seq", m.Seq), zap.Error(err))
	}
	q.entries = next
	summary := q.summaryLocked()
	q.mu.Unlock()

	fields := []zap.Field{
		zap.Uint64("seq", m.Seq),
		zap.String("kind", string(m.Kind)),
		zap.Int("day", m.DayNumber),
	}
	switch {
	case deliverErr == nil:
		q.log.Debug("mutation delivered", fields...)
	case settled.Status == StateFailed:
		q.log.Warn("mutation rejected", append(fields, zap.Error(deliverErr))...)
	case settled.Status == StateStalled:
		q.log.Warn("mutation stalled", append(fields, zap.Int("attempts", settled.Attempts), zap.Error(deliverErr))...)
	default:
		q.log.Info("mutation delivery failed",
			append(fields, zap.Int("attempts", settled.Attempts), zap.Time("next_attempt_at", settled.NextAttemptAt), zap.Error(deliverErr))...)
	}
	q.notify(summary)
}

// scheduleRetryLocked arms one timer for the earliest backoff deadline.
func (q *Queue) scheduleRetryLocked(now time.Time) {
	var earliest time.Time
	for _, e := range q.entries {
		if e.Status == StatePending && e.NextAttemptAt.After(now) {
			if earliest.IsZero() || e.NextAttemptAt.Before(earliest) {
				earliest = e.NextAttemptAt
			}
		}
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if earliest.IsZero() || q.closed {
		return
	}
	q.timer = time.AfterFunc(earliest.Sub(now), q.Kick)
}

// Retry returns a stalled entry to pending with a fresh attempt budget.
func (q *Queue) Retry(seq uint64) error {
	err := q.update(seq, func(entries []Mutation, idx int) ([]Mutation, error) {
		if entries[idx].Status != StateStalled {
			return nil, fmt.Errorf("%w: %d is %s", ErrNotStalled, seq, entries[idx].Status)
		}
		entries[idx].Status = StatePending
		entries[idx].Attempts = 0
		entries[idx].NextAttemptAt = time.Time{}
		return entries, nil
	})
	if err != nil {
		return err
	}
	q.Kick()
	return nil
}

// Dismiss drops a stalled or failed entry without delivering it.
func (q *Queue) Dismiss(seq uint64) error {
	err := q.update(seq, func(entries []Mutation, idx int) ([]Mutation, error) {
		if entries[idx].Status == StatePending {
			return nil, fmt.Errorf("%w: %d", ErrEntryActive, seq)
		}
		return append(entries[:idx], entries[idx+1:]...), nil
	})
	if err != nil {
		return err
	}
	q.Kick()
	return nil
}

func (q *Queue) update(seq uint64, fn func([]Mutation, int) ([]Mutation, error)) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	idx := q.indexLocked(seq)
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownEntry, seq)
	}
	next, err := fn(append([]Mutation(nil), q.entries...), idx)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if err := q.persist(next, q.nextSeq); err != nil {
		q.mu.Unlock()
		return err
	}
	q.entries = next
	q.dirty = true
	summary := q.summaryLocked()
	q.mu.Unlock()

	q.notify(summary)
	return nil
}

func (q *Queue) Status() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.summaryLocked()
}

// Subscribe registers fn for every queue state change. Callbacks run on the
// goroutine that changed the state, outside the queue lock.
func (q *Queue) Subscribe(fn func(Summary)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

// Close stops background drains and retry timers. The log stays persisted.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) takeDirty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.dirty && !q.closed
	q.dirty = false
	return d
}

func (q *Queue) indexLocked(seq uint64) int {
	i := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].Seq >= seq })
	if i < len(q.entries) && q.entries[i].Seq == seq {
		return i
	}
	return -1
}

func (q *Queue) persist(entries []Mutation, nextSeq uint64) error {
	raw, err := json.Marshal(logDoc{NextSeq: nextSeq, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode sync log: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := q.store.Set(ctx, q.key, raw); err != nil {
		return fmt.Errorf("persist sync log: %w", err)
	}
	return nil
}

func (q *Queue) summaryLocked() Summary {
	s := Summary{InFlight: q.inflight, Entries: make([]Mutation, len(q.entries))}
	copy(s.Entries, q.entries)
	for _, e := range q.entries {
		switch e.Status {
		case StatePending:
			s.Pending++
		case StateStalled:
			s.Stalled++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) notify(s Summary) {
	q.mu.Lock()
	subs := make([]func(Summary), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
