package nera

import (
	"fmt"
	"net/url"

	"github.com/0himera/neraAIchat/pkg/core"
)

// Error is the canonical error type shared with the server.
type Error = core.Error

// Error types.
const (
	ErrInvalidRequest  = core.ErrInvalidRequest
	ErrNoActiveSession = core.ErrNoActiveSession
	ErrNotFound        = core.ErrNotFound
	ErrAPI             = core.ErrAPI
)

// Error constructors and predicates.
var (
	NewInvalidRequestError  = core.NewInvalidRequestError
	NewNoActiveSessionError = core.NewNoActiveSessionError
	NewEmptyInputError      = core.NewEmptyInputError
	IsNoActiveSession       = core.IsNoActiveSession
	IsEmptyInput            = core.IsEmptyInput
	IsNotFound              = core.IsNotFound
)

// TransportError represents connection-level failures (DNS, timeouts,
// connection reset, websocket dial/IO) on any of the three channels or the
// sessions REST client.
//
// Use errors.As(err, &transportErr) to distinguish transport failures from
// canonical API errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
