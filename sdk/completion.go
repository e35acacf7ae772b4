package nera

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/protocol"
)

// AuxContext is the free-text context forwarded verbatim with each
// completion request.
type AuxContext struct {
	SystemPrompt string
	MemoryNotes  string
}

// CompletionChannel owns one duplex connection per outgoing prompt and
// streams partial tokens into a single assistant message. One instance
// serves one prompt and is not reused; each invocation owns its own
// assistant message id, so cross-connection interleaving cannot occur.
type CompletionChannel struct {
	client   *Client
	ledger   *Ledger
	registry *Registry
	sink     EventSink

	started atomic.Bool
	closed  atomic.Bool

	mu          sync.Mutex
	conn        *websocket.Conn
	buffer      strings.Builder
	userID      string
	assistantID string

	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func (cc *CompletionChannel) closeDone() {
	cc.doneOnce.Do(func() { close(cc.done) })
}

// NewCompletion creates a completion channel writing into ledger and
// reconciling session updates into registry.
func (c *Client) NewCompletion(ledger *Ledger, registry *Registry, sink EventSink) *CompletionChannel {
	return &CompletionChannel{
		client:   c,
		ledger:   ledger,
		registry: registry,
		sink:     sink,
		done:     make(chan struct{}),
	}
}

// AssistantID returns the id of the assistant message this channel streams
// into. Empty until Send succeeds.
func (cc *CompletionChannel) AssistantID() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.assistantID
}

// Send appends a final user message and a streaming assistant placeholder to
// the ledger, then opens the connection and submits the prompt. It fails with
// a no-active-session error when sessionID is empty and an empty-input error
// when the trimmed prompt is empty; in both cases nothing is sent and no
// message is created.
func (cc *CompletionChannel) Send(sessionID, promptText string, aux AuxContext) (userID, assistantID string, err error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", core.NewNoActiveSessionError("cannot send a prompt without an active session")
	}
	promptText = strings.TrimSpace(promptText)
	if promptText == "" {
		return "", "", core.NewEmptyInputError("text")
	}
	if !cc.started.CompareAndSwap(false, true) {
		return "", "", core.NewInvalidRequestError("completion channel already used; create a new one per prompt")
	}

	now := time.Now().UTC()
	userID = uuid.NewString()
	assistantID = uuid.NewString()

	cc.mu.Lock()
	cc.userID = userID
	cc.assistantID = assistantID
	cc.mu.Unlock()

	// Both appends happen back to back so the ledger never shows the user
	// turn without its reply placeholder.
	cc.ledger.Append(Message{
		ID:        userID,
		Role:      RoleUser,
		Text:      promptText,
		CreatedAt: now,
		Status:    StatusFinal,
	})
	cc.ledger.Append(Message{
		ID:        assistantID,
		Role:      RoleAssistant,
		Text:      "",
		CreatedAt: now,
		Status:    StatusStreaming,
	})

	conn, err := cc.client.dial("/ws/llm")
	if err != nil {
		cc.closeDone()
		cc.failAssistant(err)
		return userID, assistantID, err
	}
	cc.mu.Lock()
	cc.conn = conn
	cc.mu.Unlock()

	request := protocol.CompletionRequest{
		Text:         promptText,
		SessionID:    sessionID,
		MessageID:    userID,
		AssistantID:  assistantID,
		SystemPrompt: aux.SystemPrompt,
		MemoryNotes:  aux.MemoryNotes,
	}
	if err := conn.WriteJSON(request); err != nil {
		transportErr := &TransportError{Op: "WRITE", Err: err}
		cc.Close()
		cc.closeDone()
		cc.failAssistant(transportErr)
		return userID, assistantID, transportErr
	}

	go cc.readLoop(conn)
	return userID, assistantID, nil
}

func (cc *CompletionChannel) readLoop(conn *websocket.Conn) {
	defer cc.closeDone()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if cc.closed.Load() {
				return
			}
			cc.Close()
			cc.failAssistant(&TransportError{Op: "READ", Err: err})
			return
		}
		if cc.closed.Load() {
			// Closing twice is a no-op and nothing after close is processed.
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			cc.Close()
			cc.failAssistant(err)
			return
		}

		switch f := frame.(type) {
		case protocol.TokenFrame:
			cc.handleToken(f.Text)
		case protocol.SessionUpdateFrame:
			cc.handleSessionUpdate(f)
		case protocol.ErrorFrame:
			cc.Close()
			cc.failAssistant(core.NewServerSignaledError(f.Message))
			return
		case protocol.DoneFrame:
			cc.Close()
			cc.finishAssistant()
			return
		}
	}
}

// handleToken appends the fragment to the running buffer and writes the full
// accumulation back, never a diff.
func (cc *CompletionChannel) handleToken(fragment string) {
	cc.mu.Lock()
	cc.buffer.WriteString(fragment)
	text := cc.buffer.String()
	assistantID := cc.assistantID
	cc.mu.Unlock()

	cc.ledger.SetText(assistantID, text)
	cc.sink.emit(TokenEvent{MessageID: assistantID, Fragment: fragment, Text: text})
}

// handleSessionUpdate merges reconciliation state from the persistence
// collaborator, independent of streaming status.
func (cc *CompletionChannel) handleSessionUpdate(frame protocol.SessionUpdateFrame) {
	event := SessionUpdateEvent{}
	if frame.Session != nil {
		session := sessionFromWire(*frame.Session)
		if cc.registry != nil {
			cc.registry.Upsert(session)
		}
		event.Session = &session
	}
	if frame.Message != nil {
		message := messageFromWire(*frame.Message)
		if cc.ledger != nil {
			cc.ledger.UpsertByStatus(message)
		}
		event.Message = &message
	}
	cc.sink.emit(event)
}

// failAssistant marks the assistant message errored, leaving any accumulated
// partial text visible.
func (cc *CompletionChannel) failAssistant(err error) {
	cc.mu.Lock()
	assistantID := cc.assistantID
	cc.mu.Unlock()

	cc.ledger.SetStatus(assistantID, StatusError)
	cc.sink.emit(ChannelErrorEvent{Channel: "completion", MessageID: assistantID, Err: err})
}

func (cc *CompletionChannel) finishAssistant() {
	cc.mu.Lock()
	assistantID := cc.assistantID
	text := cc.buffer.String()
	cc.mu.Unlock()

	cc.ledger.SetStatus(assistantID, StatusFinal)
	cc.sink.emit(CompletionDoneEvent{MessageID: assistantID, Text: text})
}

// Close closes the connection. Idempotent; no inbound events are processed
// after the first close.
func (cc *CompletionChannel) Close() {
	cc.closeOnce.Do(func() {
		cc.closed.Store(true)
		cc.mu.Lock()
		conn := cc.conn
		cc.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			_ = conn.Close()
		}
	})
}

// Done is closed when the read loop has fully drained.
func (cc *CompletionChannel) Done() <-chan struct{} {
	return cc.done
}
