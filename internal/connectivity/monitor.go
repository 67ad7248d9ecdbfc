// Package connectivity tracks whether the remote store is reachable and
// announces reconnects.
package connectivity

import (
	"context"
	"sync"
	"time"

	"backend-tripweave/internal/logging"

	"go.uber.org/zap"
)

const (
	DefaultQuietPeriod   = 500 * time.Millisecond
	DefaultProbeInterval = 5 * time.Second
)

// Prober checks reachability once. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

type Option func(*Monitor)

func WithQuietPeriod(d time.Duration) Option {
	return func(m *Monitor) { m.quiet = d }
}

// WithProber polls p every interval while the monitor is started.
func WithProber(p Prober, interval time.Duration) Option {
	return func(m *Monitor) {
		m.prober = p
		if interval > 0 {
			m.interval = interval
		}
	}
}

func WithInitialState(online bool) Option {
	return func(m *Monitor) {
		m.raw = online
		m.online = online
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.log = logging.OrNop(l) }
}

// Monitor debounces raw reachability signals. Going offline takes effect at
// once; coming back online only counts after the link stayed up for the quiet
// period, and then fires exactly one reconnect event.
type Monitor struct {
	quiet    time.Duration
	prober   Prober
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	raw     bool
	online  bool
	gen     uint64
	timer   *time.Timer
	subs    map[int]func(online bool)
	nextSub int
	event   uint64

	// emitMu orders callbacks; emitted is the last event delivered
	emitMu  sync.Mutex
	emitted uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		quiet:    DefaultQuietPeriod,
		interval: DefaultProbeInterval,
		log:      zap.NewNop(),
		raw:      true,
		online:   true,
		subs:     map[int]func(bool){},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the debounced connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds a raw reachability observation.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if online == m.raw {
		m.mu.Unlock()
		return
	}
	m.raw = online
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if !online {
		wasOnline := m.online
		m.online = false
		if !wasOnline {
			m.mu.Unlock()
			return
		}
		m.event++
		ev := m.event
		subs := m.subscribersLocked()
		m.mu.Unlock()
		m.log.Info("connectivity lost")
		m.emit(ev, subs, false)
		return
	}

	gen := m.gen
	m.timer = time.AfterFunc(m.quiet, func() { m.settle(gen) })
	m.mu.Unlock()
}

func (m *Monitor) settle(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.raw || m.online {
		m.mu.Unlock()
		return
	}
	m.online = true
	m.timer = nil
	m.event++
	ev := m.event
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.log.Info("connectivity restored")
	m.emit(ev, subs, true)
}

// emit delivers event ev unless a later event already went out, so
// subscribers never end on a state the monitor has left. Callbacks must not
// call Report.
func (m *Monitor) emit(ev uint64, subs []func(bool), online bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if ev <= m.emitted {
		return
	}
	m.emitted = ev
	for _, fn := range subs {
		fn(online)
	}
}

// OnChange registers fn for debounced state changes.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// OnReconnect registers fn for offline to online transitions.
func (m *Monitor) OnReconnect(fn func()) func() {
	return m.OnChange(func(online bool) {
		if online {
			fn()
		}
	})
}

// Start begins polling the prober, if one is configured. The first probe runs
// immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		return
	}
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.prober.Probe(pctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug("probe failed", zap.Error(err))
	}
	m.Report(err == nil)
}

// Stop ends polling and drops any pending reconnect.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) subscribersLocked() []func(bool) {
	out := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
