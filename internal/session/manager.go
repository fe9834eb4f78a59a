// Package session runs one conversation per browser tab over a WebSocket.
package session

import (
	"log/slog"
	"sync"

	"github.com/ashureev/voice-assistant/internal/domain"
	"github.com/ashureev/voice-assistant/internal/turn"
)

// Manager tracks live sessions by user and tab.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Session
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*Session),
	}
}

// Register adds s, closing any session it replaces.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[s.UserID]; !exists {
		m.active[s.UserID] = make(map[string]*Session)
	}

	if existing, exists := m.active[s.UserID][s.ID]; exists && existing != s {
		existing.Close("session replaced")
	}

	m.active[s.UserID][s.ID] = s
	slog.Info("Assistant session registered", "user_id", s.UserID, "session_id", s.ID)
}

// Unregister removes s if it is still the registered session for its key.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[s.UserID]; ok {
		if current, exists := sessions[s.ID]; exists && current == s {
			delete(sessions, s.ID)
			if len(sessions) == 0 {
				delete(m.active, s.UserID)
			}
			slog.Info("Assistant session unregistered", "user_id", s.UserID, "session_id", s.ID)
		}
	}
}

// UpdateProfile pushes a changed assistant name or language to every tab of the user.
func (m *Manager) UpdateProfile(user *domain.User) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.active[user.ID] {
		s.Post(turn.SettingsChanged{
			AssistantName:     user.AssistantName,
			AssistantLanguage: user.AssistantLanguage,
			UserName:          user.Name,
		})
	}
}

// CloseSession terminates every session of a user, for example on logout.
func (m *Manager) CloseSession(userID string) {
	m.mu.Lock()
	sessions := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for sid, s := range sessions {
		s.Close("logged out")
		slog.Info("Assistant session closed", "user_id", userID, "session_id", sid)
	}
}

// CloseAll terminates every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, s := range sessions {
			s.Close("server shutting down")
		}
		delete(m.active, userID)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
