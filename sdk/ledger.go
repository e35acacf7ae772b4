package nera

import (
	"sync"
)

// Ledger is the ordered record of one session's turns. All mutators are
// idempotent-safe against duplicate and out-of-order reconciliation events;
// message status only ever moves forward.
type Ledger struct {
	mu             sync.Mutex
	messages       []Message
	index          map[string]int
	liveTranscript string

	onAssistantFinal func(Message)
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index: make(map[string]int),
	}
}

// OnAssistantFinal registers the observer invoked exactly once per assistant
// message, at the moment its status transitions to final. Bulk loads via
// ReplaceAll do not notify.
func (l *Ledger) OnAssistantFinal(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAssistantFinal = fn
}

// Append inserts message at the end. A duplicate id is a no-op.
func (l *Ledger) Append(message Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if message.ID == "" {
		return
	}
	if _, exists := l.index[message.ID]; exists {
		return
	}
	if !validStatus(message.Status) {
		message.Status = StatusFinal
	}
	l.index[message.ID] = len(l.messages)
	l.messages = append(l.messages, message)
}

// UpsertByStatus merges partial into the matching id, or inserts a new entry
// with a resolved default status. Status promotion is forward-only: a merge
// that would move a terminal message back to streaming keeps the terminal
// status.
func (l *Ledger) UpsertByStatus(partial Message) {
	if partial.ID == "" {
		return
	}

	var notify *Message
	l.mu.Lock()
	pos, exists := l.index[partial.ID]
	if !exists {
		if !validStatus(partial.Status) {
			partial.Status = StatusFinal
		}
		l.index[partial.ID] = len(l.messages)
		l.messages = append(l.messages, partial)
		l.mu.Unlock()
		return
	}

	current := &l.messages[pos]
	if partial.Role != "" {
		current.Role = partial.Role
	}
	if partial.Text != "" {
		current.Text = partial.Text
	}
	if !partial.CreatedAt.IsZero() {
		current.CreatedAt = partial.CreatedAt
	}
	if validStatus(partial.Status) && canTransition(current.Status, partial.Status) {
		wasTerminal := current.Status == StatusFinal || current.Status == StatusError
		current.Status = partial.Status
		if !wasTerminal && current.Status == StatusFinal && current.Role == RoleAssistant {
			copied := *current
			notify = &copied
		}
	}
	fn := l.onAssistantFinal
	l.mu.Unlock()

	if notify != nil && fn != nil {
		fn(*notify)
	}
}

// SetText replaces the text of the addressed message. Absent ids are a no-op;
// SetText never creates a message implicitly. Text of a terminal message is
// left alone.
func (l *Ledger) SetText(id, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, exists := l.index[id]
	if !exists {
		return
	}
	if l.messages[pos].Status != StatusStreaming {
		return
	}
	l.messages[pos].Text = text
}

// SetStatus advances the status of the addressed message. Absent ids, invalid
// statuses, and backward transitions are no-ops.
func (l *Ledger) SetStatus(id string, status MessageStatus) {
	if !validStatus(status) {
		return
	}

	var notify *Message
	l.mu.Lock()
	pos, exists := l.index[id]
	if !exists {
		l.mu.Unlock()
		return
	}
	current := &l.messages[pos]
	if !canTransition(current.Status, status) || current.Status == status {
		l.mu.Unlock()
		return
	}
	current.Status = status
	if status == StatusFinal && current.Role == RoleAssistant {
		copied := *current
		notify = &copied
	}
	fn := l.onAssistantFinal
	l.mu.Unlock()

	if notify != nil && fn != nil {
		fn(*notify)
	}
}

// ReplaceAll bulk-loads a session's history, normalizing any missing status
// to final. Used when switching sessions.
func (l *Ledger) ReplaceAll(messages []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
	l.index = make(map[string]int, len(messages))
	l.liveTranscript = ""
	for _, message := range messages {
		if message.ID == "" {
			continue
		}
		if _, exists := l.index[message.ID]; exists {
			continue
		}
		if !validStatus(message.Status) {
			message.Status = StatusFinal
		}
		l.index[message.ID] = len(l.messages)
		l.messages = append(l.messages, message)
	}
}

// Clear empties the ledger and any pending live-transcript display state.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
	l.index = make(map[string]int)
	l.liveTranscript = ""
}

// SetLiveTranscript replaces the scratch live-transcript display value.
func (l *Ledger) SetLiveTranscript(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.liveTranscript = text
}

// LiveTranscript returns the current live-transcript display value.
func (l *Ledger) LiveTranscript() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveTranscript
}

// Get returns the message with the given id.
func (l *Ledger) Get(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, exists := l.index[id]
	if !exists {
		return Message{}, false
	}
	return l.messages[pos], true
}

// Messages returns a snapshot of the ledger in order.
func (l *Ledger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
