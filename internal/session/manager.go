package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/charmbot/internal/agent"
	"github.com/nugget/charmbot/internal/prompts"
)

var (
	// ErrNotFound is returned for an unknown or expired session ID.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyMessage is returned when a turn carries no text.
	ErrEmptyMessage = errors.New("message is empty")
)

// Runner executes one agent turn.
type Runner interface {
	Run(ctx context.Context, history []prompts.HistoryEntry, message string) *agent.TurnResult
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID         string     `json:"id"`
	Transcript Transcript `json:"transcript"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Reply is the result of one customer turn.
type Reply struct {
	SessionID string `json:"session_id"`
	*agent.TurnResult
}

type session struct {
	id string

	// turn serializes agent turns; mu guards the fields below and is
	// never held across a turn.
	turn sync.Mutex
	mu   sync.Mutex

	transcript Transcript
	created    time.Time
	updated    time.Time
}

func (s *session) snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Snapshot{
		ID:         s.id,
		Transcript: append(Transcript(nil), s.transcript...),
		CreatedAt:  s.created,
		UpdatedAt:  s.updated,
	}
}

// Manager owns every live conversation. It is safe for concurrent use.
type Manager struct {
	runner Runner
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long a session may sit unused before Sweep
// discards it. Zero keeps sessions until End.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

// NewManager creates a manager that answers turns with runner.
func NewManager(runner Runner, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		runner:   runner,
		logger:   logger.With("component", "session"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create starts an empty session and returns its ID.
func (m *Manager) Create() string {
	id := newID()
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &session{id: id, created: now, updated: now}
	m.mu.Unlock()

	m.logger.Debug("session created", "session", id)
	return id
}

// Turn answers one customer message. An empty id starts a new session.
// The customer message and the reply are both recorded, including when
// the turn ends with the fallback reply.
func (m *Manager) Turn(ctx context.Context, id, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if id == "" {
		id = m.Create()
	}
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	// Sweep or End may have dropped the session before the lock was held.
	if cur, err := m.lookup(id); err != nil || cur != s {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	history := s.transcript.History()
	s.mu.Unlock()

	res := m.runner.Run(agent.WithSessionID(ctx, id), history, message)

	now := m.now()
	s.mu.Lock()
	s.transcript = append(s.transcript,
		Entry{Role: RoleCustomer, Text: message, Timestamp: now},
		Entry{Role: RoleAgent, Text: res.Reply, Timestamp: now},
	)
	s.updated = now
	s.mu.Unlock()

	return &Reply{SessionID: id, TurnResult: res}, nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// End discards a session and its transcript.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.logger.Debug("session ended", "session", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep discards sessions idle for longer than the idle timeout and
// returns how many were removed. A session in the middle of a turn is
// never removed.
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if !s.turn.TryLock() {
			continue
		}
		s.mu.Lock()
		stale := s.updated.Before(cutoff)
		s.mu.Unlock()
		s.turn.Unlock()
		if stale {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("expired idle sessions", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// Janitor calls Sweep every interval until ctx is cancelled.
func (m *Manager) Janitor(ctx context.Context, interval time.Duration) error {
	if m.idle <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
