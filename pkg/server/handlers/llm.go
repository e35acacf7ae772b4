package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/protocol"
	"github.com/0himera/neraAIchat/pkg/server/providers"
	"github.com/0himera/neraAIchat/pkg/server/store"
)

// LLMHandler serves /ws/llm. Each client frame is one prompt; the server
// persists the turn, streams token frames, persists the assistant reply, and
// closes the exchange with a done frame.
type LLMHandler struct {
	Store        store.Store
	Streamer     providers.ChatStreamer
	SystemPrompt string
	Logger       *slog.Logger

	MaxMessageBytes int64
	IdleTimeout     time.Duration
}

func (h LLMHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade(w, r, h.MaxMessageBytes)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		if h.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.IdleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.CompletionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// Bare text frames are treated as the prompt itself.
			req = protocol.CompletionRequest{Text: string(data)}
		}
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			writeErrorFrame(conn, "empty input")
			continue
		}
		if err := h.serveCompletion(r.Context(), conn, req); err != nil {
			return
		}
	}
}

// serveCompletion runs one prompt exchange. A returned error means the
// connection is unusable.
func (h LLMHandler) serveCompletion(ctx context.Context, conn *websocket.Conn, req protocol.CompletionRequest) error {
	h.persistMessage(ctx, conn, req.SessionID, protocol.Message{
		ID:   req.MessageID,
		Role: "user",
		Text: req.Text,
	})

	system := h.SystemPrompt
	if strings.TrimSpace(req.SystemPrompt) != "" {
		system = req.SystemPrompt
	}

	var reply strings.Builder
	emit := func(token string) error {
		reply.WriteString(token)
		return conn.WriteJSON(protocol.TokenFrame{Type: protocol.TypeToken, Text: token})
	}

	streamErr := h.Streamer.StreamChat(ctx, providers.ChatRequest{
		UserText:     req.Text,
		SystemPrompt: system,
		MemoryNotes:  req.MemoryNotes,
	}, emit)
	if streamErr != nil {
		var wsWriteErr *websocket.CloseError
		if errors.As(streamErr, &wsWriteErr) {
			return streamErr
		}
		if h.Logger != nil {
			h.Logger.Error("completion stream failed", "error", streamErr)
		}
		if reply.Len() == 0 {
			writeErrorFrame(conn, "completion failed")
			return nil
		}
		// Partial output already went out; finish the exchange with what we have.
	}

	if reply.Len() > 0 {
		h.persistMessage(ctx, conn, req.SessionID, protocol.Message{
			ID:   req.AssistantID,
			Role: "assistant",
			Text: reply.String(),
		})
	}
	return conn.WriteJSON(protocol.DoneFrame{Type: protocol.TypeDone})
}

// persistMessage stores one turn and pushes the resulting session state back
// to the client. Persistence is best effort; a storage fault must not kill an
// in-flight stream.
func (h LLMHandler) persistMessage(ctx context.Context, conn *websocket.Conn, sessionID string, message protocol.Message) {
	if h.Store == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	session, stored, err := h.Store.AppendMessage(ctx, sessionID, message)
	if err != nil {
		if h.Logger != nil && !errors.Is(err, store.ErrSessionNotFound) {
			h.Logger.Error("persist message failed", "error", err, "session_id", sessionID)
		}
		return
	}
	_ = conn.WriteJSON(protocol.SessionUpdateFrame{
		Type:    protocol.TypeSessionUpdate,
		Session: &session,
		Message: &stored,
	})
}
