package nera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newChannelTestServer serves one websocket path with handler and returns the
// base URL to hand to NewClient.
func newChannelTestServer(t *testing.T, path string, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()
	return newMultiChannelTestServer(t, map[string]func(conn *websocket.Conn){path: handler}, nil)
}

// newMultiChannelTestServer serves several websocket paths plus an optional
// REST fallback handler.
func newMultiChannelTestServer(t *testing.T, wsHandlers map[string]func(conn *websocket.Conn), rest http.Handler) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := wsHandlers[r.URL.Path]; ok {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			handler(conn)
			return
		}
		if rest != nil {
			rest.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	return server.URL, server.Close
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(baseURL)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

// eventRecorder is a thread-safe EventSink capturing everything emitted.
type eventRecorder struct {
	mu     sync.Mutex
	events []ChannelEvent
}

func (r *eventRecorder) sink(event ChannelEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []ChannelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChannelEvent, len(r.events))
	copy(out, r.events)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// fakeCapture yields scripted audio bytes, then blocks until closed.
type fakeCapture struct {
	mu     sync.Mutex
	data   []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeCapture(data []byte) *fakeCapture {
	return &fakeCapture{data: data, closed: make(chan struct{})}
}

func (c *fakeCapture) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.data) > 0 {
		n := copy(p, c.data)
		c.data = c.data[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, context.Canceled
}

func (c *fakeCapture) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakePlayer records played clips and optionally blocks playback.
type fakePlayer struct {
	mu      sync.Mutex
	played  []Clip
	stopped int
	block   chan struct{} // non-nil: Play waits on it or ctx
}

func (p *fakePlayer) Play(ctx context.Context, clip Clip) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *fakePlayer) playedClips() []Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Clip, len(p.played))
	copy(out, p.played)
	return out
}

func (p *fakePlayer) Pause() error  { return nil }
func (p *fakePlayer) Resume() error { return nil }
func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}
func (p *fakePlayer) SetVolume(float64) error  { return nil }
func (p *fakePlayer) SetRate(float64) error    { return nil }
func (p *fakePlayer) Seek(time.Duration) error { return ErrUnsupportedControl }
