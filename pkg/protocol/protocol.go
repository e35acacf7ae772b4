// Package protocol defines the wire frames exchanged over the three duplex
// channels (/ws/asr, /ws/llm, /ws/tts) and the session/message JSON shapes
// shared with the REST sessions API.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FinalControl is the literal text frame a transcription client sends to
// signal end-of-utterance. Everything else the client sends on /ws/asr is a
// binary audio chunk.
const FinalControl = "final"

// Frame type names. Types are unique across all three channels, so one
// decoder serves every connection.
const (
	TypePartial       = "partial"
	TypeFinal         = "final"
	TypeToken         = "token"
	TypeSessionUpdate = "session_update"
	TypeDone          = "done"
	TypeStart         = "start"
	TypeEnd           = "end"
	TypeError         = "error"
)

// Session is the wire shape of a conversation session.
type Session struct {
	ID                 string    `json:"session_id"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastMessagePreview string    `json:"last_message_preview"`
}

// Message is the wire shape of one conversation turn. Status is a client-side
// concern; persisted messages omit it and readers treat absence as final.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
}

// CompletionRequest is the single client frame opening a completion exchange.
type CompletionRequest struct {
	Text         string `json:"text"`
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id"`
	AssistantID  string `json:"assistant_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MemoryNotes  string `json:"memory_notes,omitempty"`
}

// SynthesisRequest is the single client frame opening a synthesis exchange.
type SynthesisRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed,omitempty"`
}

// TranscriptFrame carries a partial or final transcript on /ws/asr.
type TranscriptFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TokenFrame carries one streamed completion fragment.
type TokenFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SessionUpdateFrame is a reconciliation push from the persistence layer.
type SessionUpdateFrame struct {
	Type    string   `json:"type"`
	Session *Session `json:"session,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// DoneFrame terminates a completion exchange.
type DoneFrame struct {
	Type string `json:"type"`
}

// StartFrame opens a synthesis response and declares the audio codec of the
// binary frames that follow.
type StartFrame struct {
	Type  string `json:"type"`
	Codec string `json:"codec"`
}

// EndFrame terminates a synthesis response.
type EndFrame struct {
	Type  string `json:"type"`
	Bytes int    `json:"bytes,omitempty"`
}

// ErrorFrame is the explicit server-signaled error on any channel.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeServerFrame decodes one server-to-client text frame into its typed
// form. Unknown types are returned as an error so half-open connections fail
// loudly instead of stalling.
func DecodeServerFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)

	switch typ {
	case TypePartial, TypeFinal:
		var frame TranscriptFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", typ, err)
		}
		return frame, nil
	case TypeToken:
		var frame TokenFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode token frame: %w", err)
		}
		return frame, nil
	case TypeSessionUpdate:
		var frame SessionUpdateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode session_update frame: %w", err)
		}
		return frame, nil
	case TypeDone:
		return DoneFrame{Type: TypeDone}, nil
	case TypeStart:
		var frame StartFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode start frame: %w", err)
		}
		return frame, nil
	case TypeEnd:
		var frame EndFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode end frame: %w", err)
		}
		return frame, nil
	case TypeError:
		var frame ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return frame, nil
	case "":
		return nil, fmt.Errorf("frame missing type")
	default:
		return nil, fmt.Errorf("unknown frame type %q", typ)
	}
}
