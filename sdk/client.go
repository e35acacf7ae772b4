package nera

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/core"
)

const defaultConnectTimeout = 15 * time.Second

// Client is the entry point for the neraAIchat client library. It knows how
// to reach one server (REST sessions API plus the three websocket channels)
// and hands out channel instances bound to that server.
type Client struct {
	Sessions *SessionsService

	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// NewClient creates a client for the server at baseURL (http or https).
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, core.NewInvalidRequestError("base URL must not be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, core.NewInvalidRequestError("base URL must be a valid http(s) URL")
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultConnectTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Sessions = &SessionsService{client: c}
	return c, nil
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c *Client) restEndpoint(path string) string {
	return c.baseURL + path
}

// websocketEndpoint derives the ws(s) URL for path from the http(s) base URL.
func (c *Client) websocketEndpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", core.NewInvalidRequestError("base URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

func (c *Client) dial(path string) (*websocket.Conn, error) {
	wsURL, err := c.websocketEndpoint(path)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "GET", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "GET", URL: wsURL, Err: err}
	}
	return conn, nil
}
