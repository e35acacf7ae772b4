// Package nera provides the streaming voice-chat client for neraAIchat: the
// session registry, message ledger, the three duplex channels (transcription,
// completion, synthesis), the speech playback queue, and the orchestrator
// wiring them together.
package nera

import (
	"strings"
	"time"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the life-cycle status of a message. Status only moves
// forward: streaming -> final or streaming -> error. Terminal statuses are
// immutable.
type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusFinal     MessageStatus = "final"
	StatusError     MessageStatus = "error"
)

func validStatus(s MessageStatus) bool {
	switch s {
	case StatusStreaming, StatusFinal, StatusError:
		return true
	}
	return false
}

// canTransition is the single legal-transition check used by every status
// mutator. An equal status is allowed (idempotent no-op); terminal statuses
// never move.
func canTransition(from, to MessageStatus) bool {
	if !validStatus(to) {
		return false
	}
	switch from {
	case StatusStreaming:
		return true
	case StatusFinal, StatusError:
		return to == from
	default:
		// Unset status on a freshly decoded message.
		return true
	}
}

// Session is one known conversation session.
type Session struct {
	ID                 string
	Title              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
}

// Message is one conversation turn, scoped to a single session.
type Message struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	Status    MessageStatus
}

func sessionFromWire(w protocol.Session) Session {
	return Session{
		ID:                 w.ID,
		Title:              w.Title,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
		LastMessagePreview: w.LastMessagePreview,
	}
}

func messageFromWire(w protocol.Message) Message {
	status := MessageStatus(strings.TrimSpace(w.Status))
	if status == "" {
		status = StatusFinal
	}
	return Message{
		ID:        w.ID,
		Role:      Role(w.Role),
		Text:      w.Text,
		CreatedAt: w.CreatedAt,
		Status:    status,
	}
}
