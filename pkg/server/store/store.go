// Package store persists conversation sessions and their messages.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

const (
	defaultTitle   = "New chat"
	welcomeMessage = "Welcome! Use mic or type to chat. Upload documents to enable RAG."

	titleMaxLen   = 60
	previewMaxLen = 120
)

// SessionData is one session with its full ordered history.
type SessionData struct {
	Session  protocol.Session   `json:"session"`
	Messages []protocol.Message `json:"messages"`
}

// Store is the persistence surface behind the REST sessions API and the
// completion channel's reconciliation pushes.
type Store interface {
	ListSessions(ctx context.Context) ([]protocol.Session, error)
	CreateSession(ctx context.Context, title string) (*SessionData, error)
	GetSession(ctx context.Context, id string) (*SessionData, error)
	// AppendMessage persists one message, updates the session summary, and
	// returns the updated session plus the prepared message.
	AppendMessage(ctx context.Context, sessionID string, message protocol.Message) (protocol.Session, protocol.Message, error)
	RenameSession(ctx context.Context, id, title string) (protocol.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Close()
}

// newSession builds a fresh session and its seeded system welcome message.
func newSession(title string) *SessionData {
	now := time.Now().UTC()
	sessionTitle := strings.TrimSpace(title)
	if sessionTitle == "" {
		sessionTitle = defaultTitle
	}
	return &SessionData{
		Session: protocol.Session{
			ID:        uuid.NewString(),
			Title:     sessionTitle,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Messages: []protocol.Message{
			{
				ID:        uuid.NewString(),
				Role:      "system",
				Text:      welcomeMessage,
				CreatedAt: now,
			},
		},
	}
}

// prepareMessage fills defaults on an incoming message.
func prepareMessage(message protocol.Message) protocol.Message {
	if strings.TrimSpace(message.ID) == "" {
		message.ID = uuid.NewString()
	}
	if strings.TrimSpace(message.Role) == "" {
		message.Role = "assistant"
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	// Persisted messages carry no client-side status.
	message.Status = ""
	return message
}

// autonameTitle returns the title a session should take after message was
// appended, or "" when the title stays as-is. The first user message names a
// still-default session from its first line.
func autonameTitle(currentTitle string, message protocol.Message) string {
	if message.Role != "user" {
		return ""
	}
	if currentTitle != "" && currentTitle != defaultTitle {
		return ""
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return ""
	}
	firstLine := text
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	return truncate(strings.TrimSpace(firstLine), titleMaxLen)
}

// buildPreview returns the last non-system message text, truncated.
func buildPreview(messages []protocol.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "system" {
			continue
		}
		text := strings.TrimSpace(messages[i].Text)
		if text != "" {
			return truncate(text, previewMaxLen)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
