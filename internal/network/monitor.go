// Package network provides the online/offline signal that gates remote
// command execution.
//
// A [Monitor] holds the current availability and notifies subscribers on
// every transition. It is fed either by active probing of the remote service
// (see [Monitor.Run]) or by explicit [Monitor.Set] calls, for
// example from an operator forcing offline mode.
package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicecmd/internal/observe"
)

// Default probing parameters.
const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultMaxBackoff    = 60 * time.Second
)

// Prober checks whether the remote service is reachable. The executor
// client's Ping satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to [Prober].
type ProberFunc func(ctx context.Context) error

// Ping implements [Prober].
func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config configures a [Monitor].
type Config struct {
	// Prober checks reachability. Nil makes the monitor static: it stays at
	// Initial until Set is called, and Run only waits for ctx.
	Prober Prober

	// Initial is the availability assumed before the first probe.
	Initial bool

	// ProbeInterval is the delay between probes while online. Default: 10s.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe. Default: 5s.
	ProbeTimeout time.Duration

	// MaxBackoff caps the probe delay while offline. The delay starts at
	// ProbeInterval/4 and doubles after each failed probe. Default: 60s.
	MaxBackoff time.Duration

	// Metrics records transitions. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Monitor tracks network availability. All methods are safe for concurrent
// use.
type Monitor struct {
	prober        Prober
	probeInterval time.Duration
	probeTimeout  time.Duration
	maxBackoff    time.Duration
	metrics       *observe.Metrics

	// notifyMu serialises Set so subscribers see transitions in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	online    bool
	subs      map[int]func(bool)
	nextSubID int

	// recheck wakes the probe loop before its next tick.
	recheck chan struct{}
}

// NewMonitor creates a [Monitor] from cfg.
func NewMonitor(cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Monitor{
		prober:        cfg.Prober,
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  cfg.ProbeTimeout,
		maxBackoff:    cfg.MaxBackoff,
		metrics:       cfg.Metrics,
		online:        cfg.Initial,
		subs:          make(map[int]func(bool)),
		recheck:       make(chan struct{}, 1),
	}
}

// Static returns a monitor without a prober that reports online.
func Static() *Monitor {
	return NewMonitor(Config{Initial: true})
}

// Online reports the current availability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a new availability and notifies subscribers if it changed.
// Subscribers run synchronously on the caller's goroutine and must not call
// Set themselves.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		slog.Info("network online")
	} else {
		slog.Warn("network offline")
	}
	m.metrics.RecordNetworkTransition(context.Background(), online)
	for _, fn := range subs {
		fn(online)
	}
}

// Recheck asks the probe loop to probe immediately instead of waiting for
// the next tick. Safe to call repeatedly; it is a no-op without a prober.
func (m *Monitor) Recheck() {
	select {
	case m.recheck <- struct{}{}:
	default:
	}
}

// Subscribe registers fn to be called with the new value on every
// transition. The returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Changes returns a channel that receives every transition until ctx is
// done, after which it is closed. A slow reader only ever misses
// intermediate values: the latest state always wins.
func (m *Monitor) Changes(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	var mu sync.Mutex
	closed := false
	unsub := m.Subscribe(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- online:
		default:
			// Replace the stale pending value.
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	})
	go func() {
		<-ctx.Done()
		unsub()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Run probes the remote service until ctx is cancelled: every ProbeInterval
// while online, and with exponential backoff while offline. Without a
// prober it blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		<-ctx.Done()
		return
	}

	m.probe(ctx)
	minBackoff := max(m.probeInterval/4, time.Millisecond)
	backoff := minBackoff
	for {
		delay := m.probeInterval
		if !m.Online() {
			delay = backoff
			backoff = min(backoff*2, m.maxBackoff)
		} else {
			backoff = minBackoff
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.recheck:
			timer.Stop()
		case <-timer.C:
		}
		m.probe(ctx)
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.prober.Ping(pctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Debug("network probe failed", "err", err)
	}
	m.Set(err == nil)
}
