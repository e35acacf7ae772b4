package nera

import (
	"testing"
	"time"
)

func registrySession(id string, updated time.Time) Session {
	return Session{ID: id, Title: "chat " + id, UpdatedAt: updated}
}

func TestRegistrySetActiveRejectsUnknownID(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(registrySession("s1", time.Now()))

	if registry.SetActive("ghost") {
		t.Fatalf("SetActive accepted an unknown id")
	}
	if !registry.SetActive("s1") {
		t.Fatalf("SetActive rejected a known id")
	}
	if got := registry.ActiveID(); got != "s1" {
		t.Fatalf("active=%q, want s1", got)
	}
	if !registry.SetActive("") {
		t.Fatalf("SetActive must allow clearing")
	}
	if got := registry.ActiveID(); got != "" {
		t.Fatalf("active=%q, want empty after clear", got)
	}
}

func TestRegistryRemoveActiveReassignsMostRecent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	registry := NewRegistry()
	registry.Upsert(registrySession("old", now.Add(-time.Hour)))
	registry.Upsert(registrySession("mid", now.Add(-time.Minute)))
	registry.Upsert(registrySession("new", now))
	registry.SetActive("new")

	registry.Remove("new")
	if got := registry.ActiveID(); got != "mid" {
		t.Fatalf("active=%q, want most recently updated remaining session", got)
	}

	registry.Remove("mid")
	registry.Remove("old")
	if got := registry.ActiveID(); got != "" {
		t.Fatalf("active=%q, want empty when no sessions remain", got)
	}
}

func TestRegistryReplaceAllKeepsValidActive(t *testing.T) {
	t.Parallel()

	now := time.Now()
	registry := NewRegistry()
	registry.Upsert(registrySession("s1", now))
	registry.SetActive("s1")

	registry.ReplaceAll([]Session{
		registrySession("s1", now),
		registrySession("s2", now.Add(time.Minute)),
	})
	if got := registry.ActiveID(); got != "s1" {
		t.Fatalf("active=%q, want s1 kept across ReplaceAll", got)
	}

	registry.ReplaceAll([]Session{
		registrySession("s3", now),
		registrySession("s4", now.Add(time.Hour)),
	})
	if got := registry.ActiveID(); got != "s4" {
		t.Fatalf("active=%q, want reassignment to most recent when active vanished", got)
	}
}

func TestRegistryListSortedByUpdatedAtDesc(t *testing.T) {
	t.Parallel()

	now := time.Now()
	registry := NewRegistry()
	registry.Upsert(registrySession("a", now.Add(-2*time.Hour)))
	registry.Upsert(registrySession("b", now))
	registry.Upsert(registrySession("c", now.Add(-time.Hour)))

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("len=%d, want 3", len(list))
	}
	want := []string{"b", "c", "a"}
	for i, session := range list {
		if session.ID != want[i] {
			t.Fatalf("list[%d]=%s, want %s", i, session.ID, want[i])
		}
	}
}
