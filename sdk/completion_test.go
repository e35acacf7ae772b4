package nera

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

func readCompletionRequest(t *testing.T, conn *websocket.Conn) protocol.CompletionRequest {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read completion request: %v", err)
		return protocol.CompletionRequest{}
	}
	var req protocol.CompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Errorf("decode completion request: %v", err)
	}
	return req
}

func TestCompletionTokensConcatenateInOrder(t *testing.T) {
	t.Parallel()

	baseURL, closeServer := newChannelTestServer(t, "/ws/llm", func(conn *websocket.Conn) {
		defer conn.Close()
		_ = readCompletionRequest(t, conn)
		for _, token := range []string{"Hel", "lo", " there"} {
			_ = conn.WriteJSON(protocol.TokenFrame{Type: protocol.TypeToken, Text: token})
		}
		_ = conn.WriteJSON(protocol.DoneFrame{Type: protocol.TypeDone})
	})
	defer closeServer()

	client := newTestClient(t, baseURL)
	ledger := NewLedger()
	recorder := &eventRecorder{}
	channel := client.NewCompletion(ledger, NewRegistry(), recorder.sink)

	userID, assistantID, err := channel.Send("sess1", "Hello", AuxContext{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	select {
	case <-channel.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("completion did not finish")
	}

	user, ok := ledger.Get(userID)
	if !ok || user.Status != StatusFinal || user.Text != "Hello" {
		t.Fatalf("user message=%+v, want final %q", user, "Hello")
	}
	assistant, ok := ledger.Get(assistantID)
	if !ok {
		t.Fatalf("assistant message missing")
	}
	if assistant.Text != "Hello there" {
		t.Fatalf("assistant text=%q, want %q", assistant.Text, "Hello there")
	}
	if assistant.Status != StatusFinal {
		t.Fatalf("assistant status=%q, want final", assistant.Status)
	}

	// Fragments must arrive in order and accumulate, never replace.
	var fragments []string
	var accumulations []string
	for _, event := range recorder.snapshot() {
		if token, ok := event.(TokenEvent); ok {
			fragments = append(fragments, token.Fragment)
			accumulations = append(accumulations, token.Text)
		}
	}
	if len(fragments) != 3 || fragments[0] != "Hel" || fragments[1] != "lo" || fragments[2] != " there" {
		t.Fatalf("fragments=%v, want ordered [Hel lo ' there']", fragments)
	}
	if accumulations[2] != "Hello there" {
		t.Fatalf("final accumulation=%q, want %q", accumulations[2], "Hello there")
	}
}

func TestCompletionEmptyPromptCreatesNothing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:1")
	ledger := NewLedger()
	channel := client.NewCompletion(ledger, NewRegistry(), (&eventRecorder{}).sink)

	_, _, err := channel.Send("sess1", "   ", AuxContext{})
	if !IsEmptyInput(err) {
		t.Fatalf("err=%v, want empty input error", err)
	}
	if ledger.Len() != 0 {
		t.Fatalf("ledger len=%d, empty prompt must not create messages", ledger.Len())
	}
}

func TestCompletionNoActiveSessionCreatesNothing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:1")
	ledger := NewLedger()
	channel := client.NewCompletion(ledger, NewRegistry(), (&eventRecorder{}).sink)

	_, _, err := channel.Send("", "Hello", AuxContext{})
	if !IsNoActiveSession(err) {
		t.Fatalf("err=%v, want no active session error", err)
	}
	if ledger.Len() != 0 {
		t.Fatalf("ledger len=%d, want 0", ledger.Len())
	}
}

func TestCompletionUserAndPlaceholderAppendedTogether(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	baseURL, closeServer := newChannelTestServer(t, "/ws/llm", func(conn *websocket.Conn) {
		defer conn.Close()
		_ = readCompletionRequest(t, conn)
		<-release
		_ = conn.WriteJSON(protocol.DoneFrame{Type: protocol.TypeDone})
	})
	defer closeServer()

	client := newTestClient(t, baseURL)
	ledger := NewLedger()
	channel := client.NewCompletion(ledger, NewRegistry(), (&eventRecorder{}).sink)

	userID, assistantID, err := channel.Send("sess1", "Hi", AuxContext{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	// Before any server response both entries are already in the ledger.
	messages := ledger.Messages()
	if len(messages) != 2 {
		t.Fatalf("len=%d, want user and assistant appended back to back", len(messages))
	}
	if messages[0].ID != userID || messages[0].Status != StatusFinal {
		t.Fatalf("messages[0]=%+v, want final user turn", messages[0])
	}
	if messages[1].ID != assistantID || messages[1].Status != StatusStreaming || messages[1].Text != "" {
		t.Fatalf("messages[1]=%+v, want empty streaming placeholder", messages[1])
	}

	close(release)
	<-channel.Done()
}

func TestCompletionServerErrorKeepsPartialText(t *testing.T) {
	t.Parallel()

	baseURL, closeServer := newChannelTestServer(t, "/ws/llm", func(conn *websocket.Conn) {
		defer conn.Close()
		_ = readCompletionRequest(t, conn)
		_ = conn.WriteJSON(protocol.TokenFrame{Type: protocol.TypeToken, Text: "par"})
		_ = conn.WriteJSON(protocol.TokenFrame{Type: protocol.TypeToken, Text: "tial"})
		_ = conn.WriteJSON(protocol.ErrorFrame{Type: protocol.TypeError, Message: "provider blew up"})
	})
	defer closeServer()

	client := newTestClient(t, baseURL)
	ledger := NewLedger()
	recorder := &eventRecorder{}
	channel := client.NewCompletion(ledger, NewRegistry(), recorder.sink)

	_, assistantID, err := channel.Send("sess1", "Hello", AuxContext{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	<-channel.Done()

	assistant, _ := ledger.Get(assistantID)
	if assistant.Status != StatusError {
		t.Fatalf("status=%q, want error", assistant.Status)
	}
	if assistant.Text != "partial" {
		t.Fatalf("text=%q, partial output must stay visible", assistant.Text)
	}

	foundErr := false
	for _, event := range recorder.snapshot() {
		if e, ok := event.(ChannelErrorEvent); ok && e.Channel == "completion" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Fatalf("no completion ChannelErrorEvent emitted")
	}
}

func TestCompletionSessionUpdateReconciliation(t *testing.T) {
	t.Parallel()

	updated := time.Now().UTC().Truncate(time.Second)
	baseURL, closeServer := newChannelTestServer(t, "/ws/llm", func(conn *websocket.Conn) {
		defer conn.Close()
		req := readCompletionRequest(t, conn)
		_ = conn.WriteJSON(protocol.SessionUpdateFrame{
			Type: protocol.TypeSessionUpdate,
			Session: &protocol.Session{
				ID:                 req.SessionID,
				Title:              "Hello",
				UpdatedAt:          updated,
				LastMessagePreview: "Hello",
			},
			Message: &protocol.Message{ID: req.MessageID, Role: "user", Text: "Hello"},
		})
		_ = conn.WriteJSON(protocol.TokenFrame{Type: protocol.TypeToken, Text: "hi"})
		_ = conn.WriteJSON(protocol.DoneFrame{Type: protocol.TypeDone})
	})
	defer closeServer()

	client := newTestClient(t, baseURL)
	ledger := NewLedger()
	registry := NewRegistry()
	channel := client.NewCompletion(ledger, registry, (&eventRecorder{}).sink)

	userID, _, err := channel.Send("sess1", "Hello", AuxContext{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	<-channel.Done()

	session, ok := registry.Get("sess1")
	if !ok {
		t.Fatalf("session not reconciled into registry")
	}
	if session.Title != "Hello" {
		t.Fatalf("title=%q, want autonamed %q", session.Title, "Hello")
	}
	user, _ := ledger.Get(userID)
	if user.Status != StatusFinal {
		t.Fatalf("user status=%q after reconciliation, want final", user.Status)
	}
}

func TestCompletionChannelIsSingleUse(t *testing.T) {
	t.Parallel()

	baseURL, closeServer := newChannelTestServer(t, "/ws/llm", func(conn *websocket.Conn) {
		defer conn.Close()
		_ = readCompletionRequest(t, conn)
		_ = conn.WriteJSON(protocol.DoneFrame{Type: protocol.TypeDone})
	})
	defer closeServer()

	client := newTestClient(t, baseURL)
	channel := client.NewCompletion(NewLedger(), NewRegistry(), (&eventRecorder{}).sink)

	if _, _, err := channel.Send("sess1", "first", AuxContext{}); err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	<-channel.Done()

	if _, _, err := channel.Send("sess1", "second", AuxContext{}); err == nil {
		t.Fatalf("second Send on the same channel must fail")
	}
}
