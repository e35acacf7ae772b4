package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

func TestCreateSessionSeedsWelcome(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, err := s.CreateSession(context.Background(), "  ")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if data.Session.ID == "" {
		t.Fatalf("session id is empty")
	}
	if data.Session.Title != "New chat" {
		t.Fatalf("Title = %q, want the default", data.Session.Title)
	}
	if len(data.Messages) != 1 {
		t.Fatalf("got %d messages, want the single welcome message", len(data.Messages))
	}
	welcome := data.Messages[0]
	if welcome.Role != "system" || welcome.Text != "Welcome! Use mic or type to chat. Upload documents to enable RAG." {
		t.Fatalf("welcome = %+v", welcome)
	}
	if welcome.ID == "" {
		t.Fatalf("welcome message has no id")
	}

	titled, err := s.CreateSession(context.Background(), " Trip planning ")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if titled.Session.Title != "Trip planning" {
		t.Fatalf("Title = %q, want trimmed explicit title", titled.Session.Title)
	}
}

func TestAppendMessageAutonames(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	session, _, err := s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Role: "user",
		Text: "  Plan my trip to Kyoto\nsecond line is ignored ",
	})
	if err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}
	if session.Title != "Plan my trip to Kyoto" {
		t.Fatalf("Title = %q, want the first line of the first user message", session.Title)
	}

	// A later user message does not rename a session that was already named.
	session, _, err = s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Role: "user",
		Text: "What about Osaka?",
	})
	if err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}
	if session.Title != "Plan my trip to Kyoto" {
		t.Fatalf("Title = %q, autoname must fire only once", session.Title)
	}
}

func TestAppendMessageAutonameRules(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()

	// Assistant messages never autoname.
	data, _ := s.CreateSession(context.Background(), "")
	session, _, _ := s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Role: "assistant", Text: "I can help with that",
	})
	if session.Title != "New chat" {
		t.Fatalf("Title = %q, assistant text must not autoname", session.Title)
	}

	// An explicitly titled session keeps its title.
	titled, _ := s.CreateSession(context.Background(), "My title")
	session, _, _ = s.AppendMessage(context.Background(), titled.Session.ID, protocol.Message{
		Role: "user", Text: "hello",
	})
	if session.Title != "My title" {
		t.Fatalf("Title = %q, explicit titles are kept", session.Title)
	}

	// Long first lines are cut at 60 runes.
	long, _ := s.CreateSession(context.Background(), "")
	line := strings.Repeat("я", 80)
	session, _, _ = s.AppendMessage(context.Background(), long.Session.ID, protocol.Message{
		Role: "user", Text: line,
	})
	if got := len([]rune(session.Title)); got != 60 {
		t.Fatalf("title length = %d runes, want 60", got)
	}
	if session.Title != strings.Repeat("я", 60) {
		t.Fatalf("Title = %q, truncation must be rune safe", session.Title)
	}
}

func TestAppendMessagePreview(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	// The seeded system message never shows up as a preview.
	if data.Session.LastMessagePreview != "" {
		t.Fatalf("preview = %q on a fresh session, want empty", data.Session.LastMessagePreview)
	}

	session, _, _ := s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Role: "user", Text: "  short question  ",
	})
	if session.LastMessagePreview != "short question" {
		t.Fatalf("preview = %q, want the trimmed user text", session.LastMessagePreview)
	}

	long := strings.Repeat("x", 200)
	session, _, _ = s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Role: "assistant", Text: long,
	})
	if got := len(session.LastMessagePreview); got != 120 {
		t.Fatalf("preview length = %d, want 120", got)
	}
}

func TestAppendMessageFillsDefaults(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	_, message, err := s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		Text: "reply text", Status: "streaming",
	})
	if err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}
	if message.ID == "" {
		t.Fatalf("message id was not generated")
	}
	if message.Role != "assistant" {
		t.Fatalf("Role = %q, want the assistant default", message.Role)
	}
	if message.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt was not filled")
	}
	if message.Status != "" {
		t.Fatalf("Status = %q, persisted messages carry no status", message.Status)
	}
}

func TestAppendMessageDuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	first := protocol.Message{ID: "m1", Role: "user", Text: "original"}
	if _, _, err := s.AppendMessage(context.Background(), data.Session.ID, first); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	_, returned, err := s.AppendMessage(context.Background(), data.Session.ID, protocol.Message{
		ID: "m1", Role: "user", Text: "retried with different text",
	})
	if err != nil {
		t.Fatalf("duplicate append error: %v", err)
	}
	if returned.Text != "original" {
		t.Fatalf("returned text = %q, want the original kept", returned.Text)
	}

	loaded, _ := s.GetSession(context.Background(), data.Session.ID)
	count := 0
	for _, m := range loaded.Messages {
		if m.ID == "m1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("message m1 appears %d times, want 1", count)
	}
}

func TestListSessionsSortedByUpdate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	older, _ := s.CreateSession(context.Background(), "older")
	newer, _ := s.CreateSession(context.Background(), "newer")

	time.Sleep(2 * time.Millisecond)
	if _, _, err := s.AppendMessage(context.Background(), older.Session.ID, protocol.Message{Role: "user", Text: "bump"}); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	sessions, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != older.Session.ID || sessions[1].ID != newer.Session.ID {
		t.Fatalf("order = [%s %s], want most recently updated first", sessions[0].Title, sessions[1].Title)
	}
}

func TestRenameAndDelete(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	session, err := s.RenameSession(context.Background(), data.Session.ID, "Renamed")
	if err != nil {
		t.Fatalf("RenameSession error: %v", err)
	}
	if session.Title != "Renamed" {
		t.Fatalf("Title = %q", session.Title)
	}

	if _, err := s.RenameSession(context.Background(), "ghost", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("rename ghost err = %v, want ErrSessionNotFound", err)
	}

	if err := s.DeleteSession(context.Background(), data.Session.ID); err != nil {
		t.Fatalf("DeleteSession error: %v", err)
	}
	if _, err := s.GetSession(context.Background(), data.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get after delete err = %v, want ErrSessionNotFound", err)
	}
	if err := s.DeleteSession(context.Background(), data.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetSessionReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	data, _ := s.CreateSession(context.Background(), "")

	loaded, _ := s.GetSession(context.Background(), data.Session.ID)
	loaded.Messages[0].Text = "mutated by caller"
	loaded.Session.Title = "mutated"

	again, _ := s.GetSession(context.Background(), data.Session.ID)
	if again.Messages[0].Text != "Welcome! Use mic or type to chat. Upload documents to enable RAG." {
		t.Fatalf("store state leaked through a snapshot")
	}
	if again.Session.Title != "New chat" {
		t.Fatalf("session state leaked through a snapshot")
	}
}
