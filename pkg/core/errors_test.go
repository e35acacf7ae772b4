package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	plain := NewNotFoundError("session not found")
	if got := plain.Error(); got != "not_found_error: session not found" {
		t.Fatalf("Error()=%q", got)
	}

	coded := NewEmptyInputError("text")
	if got := coded.Error(); got != "invalid_request_error: input is empty (code: empty_input)" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestErrorWireShapeOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewNotFoundError("session not found"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"not_found_error","message":"session not found"}`
	if string(raw) != want {
		t.Fatalf("wire=%s, want %s", raw, want)
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	if !IsNoActiveSession(NewNoActiveSessionError("")) {
		t.Fatalf("IsNoActiveSession missed its own constructor")
	}
	if !IsEmptyInput(NewEmptyInputError("text")) {
		t.Fatalf("IsEmptyInput missed its own constructor")
	}
	if !IsNotFound(NewNotFoundError("gone")) {
		t.Fatalf("IsNotFound missed its own constructor")
	}

	// Predicates classify by type or code, never by message text.
	if IsNoActiveSession(NewAPIError("no active session")) {
		t.Fatalf("message text must not classify")
	}
	if IsEmptyInput(NewInvalidRequestError("input is empty")) {
		t.Fatalf("uncoded invalid request is not empty input")
	}
	if IsNotFound(errors.New("not found")) || IsNotFound(nil) {
		t.Fatalf("foreign and nil errors must not classify")
	}
}

func TestNoActiveSessionDefaultMessage(t *testing.T) {
	t.Parallel()

	err := NewNoActiveSessionError("")
	if err.Message != "no active session" {
		t.Fatalf("message=%q, want the default filled in", err.Message)
	}
	if err.Code != "no_active_session" {
		t.Fatalf("code=%q", err.Code)
	}
}
