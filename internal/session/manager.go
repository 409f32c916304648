package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/internal/logger"
)

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	Session Config

	// RecordDir enables asciinema recordings when set.
	RecordDir      string
	RecordCompress bool

	Clock  Clock
	Logger *zap.Logger
}

// Manager tracks the sessions of all open connections.
type Manager struct {
	launcher Launcher
	config   ManagerConfig
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager.
func NewManager(launcher Launcher, config ManagerConfig) *Manager {
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Manager{
		launcher: launcher,
		config:   config,
		logger:   config.Logger.With(zap.String("component", "session")),
		sessions: make(map[string]*Session),
	}
}

// Open creates and registers a session that writes to sink. The caller
// starts it once the sink is ready.
func (m *Manager) Open(sink Sink) (*Session, error) {
	id := uuid.New().String()

	opts := []Option{
		WithClock(m.config.Clock),
		WithLogger(m.logger),
		WithOnClose(func() { m.remove(id) }),
	}

	if m.config.RecordDir != "" {
		size := m.config.Session.Size.OrDefault()
		rec, err := logger.OpenRecorder(m.config.RecordDir, id, m.config.RecordCompress, int(size.Cols), int(size.Rows))
		if err != nil {
			return nil, fmt.Errorf("failed to open recording: %w", err)
		}
		opts = append(opts, WithRecorder(rec))
	}

	s := New(id, m.config.Session, m.launcher, sink, opts...)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// List returns snapshots of all open sessions, oldest first.
func (m *Manager) List() []Snapshot {
	// Sessions take the manager lock from their close hook, so never hold
	// it while locking a session.
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close terminates one session.
func (m *Manager) Close(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// CloseAll terminates every session, killing their processes.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	m.logger.Info("all sessions closed", zap.Int("count", len(sessions)))
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
