package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/clara/internal/metrics"
)

// Manager owns the session map and the expiry supervisor.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	wakeName  string
	ownerName string
	ttsEngine string

	cancel context.CancelFunc
}

func NewManager(wakeName, ownerName, ttsEngine string) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		wakeName:  wakeName,
		ownerName: ownerName,
		ttsEngine: ttsEngine,
	}
}

// Start launches the expiry supervisor.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.supervise(ctx)
}

// Stop halts the supervisor.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Create mints a fresh session.
func (m *Manager) Create() *Session {
	s := New(m.wakeName, m.ownerName, m.ttsEngine)

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	slog.Info("session: created", "session", s.ID, "active", count)
	return s
}

// CreateWithID mints a session under a caller-chosen key, used for
// meet-<id> worker sessions.
func (m *Manager) CreateWithID(sessionID string) *Session {
	s := New(m.wakeName, m.ownerName, m.ttsEngine)
	s.ID = sessionID

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	slog.Info("session: created", "session", s.ID, "active", count)
	return s
}

// Get looks a live session up by ID.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count returns how many sessions are live.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) supervise(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapExpired(now)
		}
	}
}

func (m *Manager) reapExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, sessionID)
			slog.Info("session: expired", "session", sessionID)
		}
	}
	metrics.SessionsActive.Set(float64(len(m.sessions)))
}
