// Package connwatch tracks the reachability of the services a turn
// depends on (the model server, the order database) so that outages show
// up in logs and on the health endpoint before customers notice.
//
// Each watcher probes once at startup with exponential backoff, then
// polls at a fixed interval and logs state transitions.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc returns nil when the service is reachable.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing. Zero fields take DefaultBackoff values.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s up to 60s for ten attempts, then
// polls every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Status is the health of one service as reported by /health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	logger  *slog.Logger

	mu     sync.Mutex
	status Status
}

func (w *watcher) check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.backoff.ProbeTimeout)
	err := w.probe(pctx)
	cancel()

	w.mu.Lock()
	was := w.status.Ready
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	switch {
	case was && err != nil:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
	case !was && err == nil:
		w.logger.Info("service reachable", "service", w.name)
	}
	return err == nil
}

func (w *watcher) run(ctx context.Context) {
	delay := w.backoff.InitialDelay
	for attempt := 1; attempt <= w.backoff.MaxRetries; attempt++ {
		if w.check(ctx) {
			break
		}
		if attempt == w.backoff.MaxRetries {
			w.logger.Warn("service still unreachable, polling in background",
				"service", w.name, "attempts", attempt)
			break
		}
		if !sleep(ctx, delay) {
			return
		}
		delay = min(delay*2, w.backoff.MaxDelay)
	}

	t := time.NewTicker(w.backoff.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.check(ctx)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager runs a set of watchers.
type Manager struct {
	logger *slog.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	watchers map[string]*watcher
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*watcher),
	}
}

// Watch starts probing a service until ctx is cancelled. Watching a
// name twice replaces the earlier entry in Status.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) {
	w := &watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  m.logger,
		status:  Status{Name: name},
	}
	m.mu.Lock()
	m.watchers[name] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(ctx)
	}()
}

// Wait blocks until every watcher has stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Status returns every service's health, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		w.mu.Lock()
		out = append(out, w.status)
		w.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched service is reachable.
func (m *Manager) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}
