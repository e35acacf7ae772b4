package core

import (
	"fmt"
)

// Error is the canonical error shape shared by the sdk and the server.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest  ErrorType = "invalid_request_error"
	ErrNoActiveSession ErrorType = "no_active_session_error"
	ErrNotFound        ErrorType = "not_found_error"
	ErrAPI             ErrorType = "api_error"
	ErrProvider        ErrorType = "provider_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewNoActiveSessionError reports a user action attempted with no bound session.
func NewNoActiveSessionError(message string) *Error {
	if message == "" {
		message = "no active session"
	}
	return &Error{
		Type:    ErrNoActiveSession,
		Message: message,
		Code:    "no_active_session",
	}
}

// NewEmptyInputError reports trimmed-empty user input.
func NewEmptyInputError(param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: "input is empty",
		Param:   param,
		Code:    "empty_input",
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewServerSignaledError wraps an explicit error frame received on a channel.
func NewServerSignaledError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
		Code:    "server_signaled",
	}
}

// NewProviderError wraps an upstream ASR/LLM/TTS provider failure.
func NewProviderError(message string) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: message,
	}
}

// IsNoActiveSession reports whether err is the no-active-session error.
func IsNoActiveSession(err error) bool {
	coreErr, ok := err.(*Error)
	return ok && coreErr != nil && coreErr.Type == ErrNoActiveSession
}

// IsEmptyInput reports whether err is the empty-input error.
func IsEmptyInput(err error) bool {
	coreErr, ok := err.(*Error)
	return ok && coreErr != nil && coreErr.Code == "empty_input"
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	coreErr, ok := err.(*Error)
	return ok && coreErr != nil && coreErr.Type == ErrNotFound
}
