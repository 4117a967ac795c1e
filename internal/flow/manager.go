package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/util"
)

// SessionManager tracks live diagnostic sessions by id. Sessions are
// in-memory only: abandoning one has no side effect on the flow store, and
// independent sessions share no mutable state with each other.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	generator Generator
	notifier  Notifier
}

// NewSessionManager creates a session manager. Either collaborator may be
// nil; sessions then run with the corresponding fallback behavior.
func NewSessionManager(generator Generator, notifier Notifier) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		generator: generator,
		notifier:  notifier,
	}
}

// Start creates and starts a session over the given flow and returns its
// initial state.
func (m *SessionManager) Start(doc *models.Flow) (models.SessionState, error) {
	id := util.GenerateSessionID()
	session, err := NewSession(id, doc, m.generator, m.notifier)
	if err != nil {
		return models.SessionState{}, err
	}
	state := session.Start()

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	slog.Info("SessionManager.Start: session started", "sessionID", id, "flowID", doc.ID)
	return state, nil
}

// Get returns the current state of a session.
func (m *SessionManager) Get(id string) (models.SessionState, error) {
	session, err := m.lookup(id)
	if err != nil {
		return models.SessionState{}, err
	}
	return session.Snapshot(), nil
}

// Submit records an answer against a session.
func (m *SessionManager) Submit(ctx context.Context, id, answer string) (models.SessionState, error) {
	session, err := m.lookup(id)
	if err != nil {
		return models.SessionState{}, err
	}
	return session.Submit(ctx, answer)
}

// Reset restarts a session at its flow's first step.
func (m *SessionManager) Reset(id string) (models.SessionState, error) {
	session, err := m.lookup(id)
	if err != nil {
		return models.SessionState{}, err
	}
	return session.Reset()
}

// Delete abandons a session. Unknown ids report not-found.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return models.ErrSessionNotFound
	}
	delete(m.sessions, id)
	slog.Debug("SessionManager.Delete: session abandoned", "sessionID", id)
	return nil
}

func (m *SessionManager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}
