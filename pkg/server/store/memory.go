package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

// MemoryStore keeps sessions in process memory. It is the default backend
// when no database is configured, and the one the tests run against.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionData
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionData)}
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Session, 0, len(m.sessions))
	for _, data := range m.sessions {
		out = append(out, data.Session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, title string) (*SessionData, error) {
	data := newSession(title)
	m.mu.Lock()
	m.sessions[data.Session.ID] = data
	m.mu.Unlock()
	return copySessionData(data), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySessionData(data), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, message protocol.Message) (protocol.Session, protocol.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[sessionID]
	if !ok {
		return protocol.Session{}, protocol.Message{}, ErrSessionNotFound
	}
	prepared := prepareMessage(message)
	for _, existing := range data.Messages {
		if existing.ID == prepared.ID {
			// Duplicate push from a retried reconciliation; keep the original.
			return data.Session, existing, nil
		}
	}
	data.Messages = append(data.Messages, prepared)
	if title := autonameTitle(data.Session.Title, prepared); title != "" {
		data.Session.Title = title
	}
	data.Session.LastMessagePreview = buildPreview(data.Messages)
	data.Session.UpdatedAt = time.Now().UTC()
	return data.Session, prepared, nil
}

func (m *MemoryStore) RenameSession(ctx context.Context, id, title string) (protocol.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return protocol.Session{}, ErrSessionNotFound
	}
	data.Session.Title = truncate(title, titleMaxLen)
	data.Session.UpdatedAt = time.Now().UTC()
	return data.Session, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() {}

func copySessionData(data *SessionData) *SessionData {
	out := &SessionData{Session: data.Session}
	out.Messages = append([]protocol.Message(nil), data.Messages...)
	return out
}
