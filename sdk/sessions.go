package nera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/protocol"
)

// SessionsService is the REST client for the persistence collaborator. The
// streaming components never mutate persisted state directly; they consume
// this service's results through Registry.Upsert and Ledger.ReplaceAll.
type SessionsService struct {
	client *Client
}

// SessionWithHistory is the get/create response: session metadata plus the
// full message history.
type SessionWithHistory struct {
	Session  Session
	Messages []Message
}

// List returns all known sessions, most recently updated first.
func (s *SessionsService) List(ctx context.Context) ([]Session, error) {
	var wire []protocol.Session
	if err := s.do(ctx, http.MethodGet, "/sessions", nil, &wire); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(wire))
	for _, w := range wire {
		sessions = append(sessions, sessionFromWire(w))
	}
	return sessions, nil
}

// Create creates a new session. An empty title falls back to the server
// default.
func (s *SessionsService) Create(ctx context.Context, title string) (*SessionWithHistory, error) {
	payload := map[string]any{}
	if strings.TrimSpace(title) != "" {
		payload["title"] = strings.TrimSpace(title)
	}
	var wire struct {
		Session  protocol.Session   `json:"session"`
		Messages []protocol.Message `json:"messages"`
	}
	if err := s.do(ctx, http.MethodPost, "/sessions", payload, &wire); err != nil {
		return nil, err
	}
	return sessionWithHistoryFromWire(wire.Session, wire.Messages), nil
}

// Get returns one session and its message history.
func (s *SessionsService) Get(ctx context.Context, id string) (*SessionWithHistory, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, core.NewInvalidRequestError("session id must not be empty")
	}
	var wire struct {
		Session  protocol.Session   `json:"session"`
		Messages []protocol.Message `json:"messages"`
	}
	if err := s.do(ctx, http.MethodGet, "/sessions/"+id, nil, &wire); err != nil {
		return nil, err
	}
	return sessionWithHistoryFromWire(wire.Session, wire.Messages), nil
}

// Rename updates a session title.
func (s *SessionsService) Rename(ctx context.Context, id, title string) (Session, error) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" {
		return Session{}, core.NewInvalidRequestError("session id must not be empty")
	}
	if title == "" {
		return Session{}, core.NewInvalidRequestError("title must not be empty")
	}
	var wire protocol.Session
	if err := s.do(ctx, http.MethodPatch, "/sessions/"+id, map[string]any{"title": title}, &wire); err != nil {
		return Session{}, err
	}
	return sessionFromWire(wire), nil
}

// Delete removes a session and its history.
func (s *SessionsService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.NewInvalidRequestError("session id must not be empty")
	}
	return s.do(ctx, http.MethodDelete, "/sessions/"+id, nil, nil)
}

// AppendMessage persists one message out of band (for example a typed turn
// sent while the completion server is unreachable).
func (s *SessionsService) AppendMessage(ctx context.Context, sessionID string, role Role, text string) (Session, Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, Message{}, core.NewInvalidRequestError("session id must not be empty")
	}
	var wire struct {
		Session protocol.Session `json:"session"`
		Message protocol.Message `json:"message"`
	}
	payload := map[string]any{"role": string(role), "text": text}
	if err := s.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", payload, &wire); err != nil {
		return Session{}, Message{}, err
	}
	return sessionFromWire(wire.Session), messageFromWire(wire.Message), nil
}

func sessionWithHistoryFromWire(session protocol.Session, messages []protocol.Message) *SessionWithHistory {
	out := &SessionWithHistory{
		Session:  sessionFromWire(session),
		Messages: make([]Message, 0, len(messages)),
	}
	for _, w := range messages {
		out.Messages = append(out.Messages, messageFromWire(w))
	}
	return out
}

func (s *SessionsService) do(ctx context.Context, method, path string, payload, out any) error {
	if s == nil || s.client == nil {
		return core.NewInvalidRequestError("sessions service is not initialized")
	}
	endpoint := s.client.restEndpoint(path)

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s payload: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRESTError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeRESTError(status int, raw []byte) error {
	var coreErr core.Error
	if err := json.Unmarshal(raw, &coreErr); err == nil && coreErr.Message != "" {
		return &coreErr
	}
	if status == http.StatusNotFound {
		return core.NewNotFoundError("session not found")
	}
	return core.NewAPIError(fmt.Sprintf("sessions API returned status %d", status))
}
