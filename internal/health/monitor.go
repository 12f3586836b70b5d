// Package health polls the embedding sidecar's availability and
// drains the deferred queue once it recovers.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aman-cerp/amandocs/internal/queue"
)

// Status is the sidecar's last observed availability.
type Status struct {
	Available bool
	CheckedAt time.Time
	Err       error
}

// Prober reports whether the embedding sidecar currently responds.
// embed.Client satisfies this via its Available method.
type Prober interface {
	Available(ctx context.Context) bool
}

// DrainFunc processes one deferred item, returning an error if it
// should be re-queued for a later attempt.
type DrainFunc func(context.Context, queue.Item) error

// Monitor polls a Prober on an interval and, on a down-to-up
// transition, drains the deferred queue. A startup probe failure only
// logs a warning; it never aborts the caller, per the sidecar being
// optional infrastructure rather than a hard dependency.
type Monitor struct {
	prober       Prober
	deferred     *queue.Deferred
	interval     time.Duration
	batchSize    int
	interBatch   time.Duration
	drain        DrainFunc
	logger       *slog.Logger

	mu     sync.RWMutex
	status Status

	listeners []func(Status)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval. Default 15s.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithDrainBatch sets the deferred-queue drain batch size and inter-batch delay.
func WithDrainBatch(size int, delay time.Duration) Option {
	return func(m *Monitor) {
		m.batchSize = size
		m.interBatch = delay
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New creates a Monitor over prober, draining deferred via drain on recovery.
func New(prober Prober, deferred *queue.Deferred, drain DrainFunc, opts ...Option) *Monitor {
	m := &Monitor{
		prober:     prober,
		deferred:   deferred,
		interval:   15 * time.Second,
		batchSize:  10,
		interBatch: 200 * time.Millisecond,
		drain:      drain,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers a callback invoked after every probe with the resulting status.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Current returns the last observed status.
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run polls until ctx is cancelled. The first probe runs immediately;
// a failure there is logged as a warning and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	available := m.prober.Available(ctx)

	m.mu.Lock()
	wasAvailable := m.status.Available
	m.status = Status{Available: available, CheckedAt: time.Now()}
	listeners := append([]func(Status){}, m.listeners...)
	m.mu.Unlock()

	if !available {
		m.logger.Warn("embedding sidecar unavailable")
	}

	for _, fn := range listeners {
		fn(m.status)
	}

	if available && !wasAvailable && m.deferred != nil && m.drain != nil {
		m.logger.Info("embedding sidecar recovered, draining deferred queue",
			slog.Int("queued", m.deferred.Len()))
		if err := m.deferred.Drain(ctx, m.batchSize, m.drain); err != nil {
			m.logger.Warn("deferred queue drain interrupted", slog.String("error", err.Error()))
		}
	}
}
