package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chicken/broker/internal/export"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/simulation"
)

var (
	// ErrSessionFull is returned when the concurrent session limit is reached.
	ErrSessionFull = errors.New("session limit reached")
	// ErrUnknownSession is returned for identifiers the manager does not hold.
	ErrUnknownSession = errors.New("unknown session")
)

// ManagerConfig bounds and paces the sessions a manager runs.
type ManagerConfig struct {
	Session     Config
	MaxSessions int
	TickHz      float64
}

type entry struct {
	session *Session
	loop    *simulation.Loop
}

// Manager creates sessions, drives each with its own tick loop and closes them.
type Manager struct {
	cfg     ManagerConfig
	log     *logging.Logger
	sinks   []export.Sink
	monitor *simulation.TickMonitor

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager constructs an empty manager. Every session submits to sinks.
func NewManager(cfg ManagerConfig, logger *logging.Logger, sinks ...export.Sink) *Manager {
	if logger == nil {
		logger = logging.L()
	}
	budget := cfg.Session.Protocol.FixedStep
	return &Manager{
		cfg:      cfg,
		log:      logger.Named("sessions"),
		sinks:    sinks,
		monitor:  simulation.NewTickMonitor(budget),
		sessions: make(map[string]*entry),
	}
}

// Create starts a new session and its tick loop. The loop stops when ctx is cancelled or
// the session is removed.
func (m *Manager) Create(ctx context.Context, opts ...Option) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrSessionFull
	}
	opts = append([]Option{WithLogger(m.log), WithSinks(m.sinks...)}, opts...)
	session, err := New(m.cfg.Session, opts...)
	if err != nil {
		return nil, err
	}
	if _, exists := m.sessions[session.ID()]; exists {
		_ = session.Close(ctx)
		return nil, errors.New("duplicate session id")
	}
	if err := session.Start(); err != nil {
		_ = session.Close(ctx)
		return nil, err
	}
	loop := simulation.NewLoop(m.cfg.TickHz, session.Advance, simulation.WithMonitor(m.monitor))
	loop.Start(ctx)
	m.sessions[session.ID()] = &entry{session: session, loop: loop}
	m.log.Info("session started", logging.Session(session.ID()), logging.Int("active", len(m.sessions)))
	return session, nil
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return e.session, nil
}

// Abort ends a running session early without scoring its in-flight trial.
func (m *Manager) Abort(id, reason string) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	session.Abort(reason)
	m.log.Warn("session aborted", logging.Session(id), logging.String("reason", reason))
	return nil
}

// Remove stops the session's loop and closes it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	e.loop.Stop()
	err := e.session.Close(ctx)
	m.log.Info("session removed", logging.Session(id), logging.Int("active", remaining))
	return err
}

// List snapshots every running session, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.Unlock()
	snapshots := make([]Snapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Created.Equal(snapshots[j].Created) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].Created.Before(snapshots[j].Created)
	})
	return snapshots
}

// Len counts running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Monitor exposes frame timing across all sessions.
func (m *Manager) Monitor() *simulation.TickMonitor { return m.monitor }

// Shutdown removes every session, joining their close errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := m.Remove(ctx, id); err != nil && !errors.Is(err, ErrUnknownSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
