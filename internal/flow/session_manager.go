package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Secretario/internal/models"
)

// SessionManager owns per-user session records.
type SessionManager interface {
	// Get returns the session for userID, or a fresh one if none exists yet.
	Get(ctx context.Context, userID string) (models.Session, error)
	// Update applies fn to the user's session and stores the result.
	Update(ctx context.Context, userID string, fn func(*models.Session)) (models.Session, error)
}

// InMemorySessionManager keeps sessions in a map for the lifetime of the process.
type InMemorySessionManager struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	now      func() time.Time
}

// NewInMemorySessionManager creates an empty session manager.
func NewInMemorySessionManager() *InMemorySessionManager {
	slog.Debug("Creating InMemorySessionManager")
	return &InMemorySessionManager{
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
}

// Get returns a copy of the user's session. Unknown users get a fresh, unsaved session.
func (m *InMemorySessionManager) Get(ctx context.Context, userID string) (models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Session{}, models.ErrEmptyUserID
	}
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return models.NewSession(userID, m.now()), nil
	}
	return s, nil
}

// Update applies fn to a copy of the session under the write lock and saves it.
func (m *InMemorySessionManager) Update(ctx context.Context, userID string, fn func(*models.Session)) (models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Session{}, models.ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[userID]
	if !ok {
		s = models.NewSession(userID, now)
		slog.Debug("InMemorySessionManager.Update: new session", "user_id", userID)
	}
	fn(&s)
	s.UserID = userID
	s.UpdatedAt = now
	m.sessions[userID] = s
	return s, nil
}

// Count returns the number of stored sessions.
func (m *InMemorySessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
