package nera

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/protocol"
)

// Chunk interval bounds for microphone capture. Intervals outside the range
// are clamped.
const (
	MinChunkInterval     = 100 * time.Millisecond
	MaxChunkInterval     = 1000 * time.Millisecond
	defaultChunkInterval = 250 * time.Millisecond
)

// TranscriptionState is the channel's capture state machine.
type TranscriptionState int

const (
	TranscriptionIdle TranscriptionState = iota
	TranscriptionCapturing
	TranscriptionAwaitingFinal
)

// TranscriptionChannel owns one capture-to-ASR duplex connection per
// recording. Audio is pushed as binary chunks on a fixed interval; the
// server answers with partial transcripts and one final transcript (or an
// error) after the client signals end-of-utterance.
//
// One instance serves one recording. The capture device is released on every
// exit path.
type TranscriptionChannel struct {
	client *Client
	ledger *Ledger
	sink   EventSink

	sessionID     string
	chunkInterval time.Duration

	mu      sync.Mutex
	state   TranscriptionState
	conn    *websocket.Conn
	capture AudioCapture

	writeMu  sync.Mutex
	stop     chan struct{}
	flushed  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// stopChunker halts the capture flush loop. Idempotent.
func (t *TranscriptionChannel) stopChunker() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// NewTranscription creates a transcription channel bound to sessionID. The
// ledger receives live-transcript updates; completed utterances and errors go
// to sink.
func (c *Client) NewTranscription(sessionID string, ledger *Ledger, sink EventSink, chunkInterval time.Duration) *TranscriptionChannel {
	return &TranscriptionChannel{
		client:        c,
		ledger:        ledger,
		sink:          sink,
		sessionID:     strings.TrimSpace(sessionID),
		chunkInterval: clampChunkInterval(chunkInterval),
		stop:          make(chan struct{}),
		flushed:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func clampChunkInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return defaultChunkInterval
	case d < MinChunkInterval:
		return MinChunkInterval
	case d > MaxChunkInterval:
		return MaxChunkInterval
	}
	return d
}

// State returns the current capture state.
func (t *TranscriptionChannel) State() TranscriptionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start opens the capture device and the /ws/asr connection and begins
// pushing audio chunks. It fails with a no-active-session error when the
// channel is not bound to a session.
func (t *TranscriptionChannel) Start(capture AudioCapture) error {
	if t.sessionID == "" {
		return core.NewNoActiveSessionError("cannot start recording without an active session")
	}
	if capture == nil {
		return core.NewInvalidRequestError("capture device must not be nil")
	}

	t.mu.Lock()
	if t.state != TranscriptionIdle {
		t.mu.Unlock()
		return core.NewInvalidRequestError("recording already in progress")
	}
	t.state = TranscriptionCapturing
	t.capture = capture
	t.mu.Unlock()

	conn, err := t.client.dial("/ws/asr")
	if err != nil {
		t.teardown()
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.captureLoop(capture, conn)
	go t.readLoop(conn)
	return nil
}

// captureLoop reads raw audio and flushes the accumulated bytes as one
// binary frame per chunk interval. Capture never blocks on ASR
// acknowledgement; frames are pushed as they become available.
func (t *TranscriptionChannel) captureLoop(capture AudioCapture, conn *websocket.Conn) {
	defer close(t.flushed)
	ticker := time.NewTicker(t.chunkInterval)
	defer ticker.Stop()

	var pending []byte
	var pendingMu sync.Mutex

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, err := capture.Read(buf)
			if n > 0 {
				pendingMu.Lock()
				pending = append(pending, buf[:n]...)
				pendingMu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	flush := func() {
		pendingMu.Lock()
		chunk := pending
		pending = nil
		pendingMu.Unlock()
		if len(chunk) == 0 {
			return
		}
		t.writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, chunk)
		t.writeMu.Unlock()
		if err != nil {
			t.client.Logger().Debug("asr chunk write failed", "error", err)
		}
	}

	for {
		select {
		case <-t.stop:
			flush()
			return
		case <-readDone:
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

func (t *TranscriptionChannel) readLoop(conn *websocket.Conn) {
	defer close(t.done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			wasActive := t.state != TranscriptionIdle
			t.mu.Unlock()
			t.teardown()
			if wasActive && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.sink.emit(ChannelErrorEvent{Channel: "transcription", Err: &TransportError{Op: "READ", Err: err}})
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			t.teardown()
			t.sink.emit(ChannelErrorEvent{Channel: "transcription", Err: err})
			return
		}

		switch f := frame.(type) {
		case protocol.TranscriptFrame:
			if f.Type == protocol.TypePartial {
				t.handlePartial(f.Text)
				continue
			}
			t.handleFinal(f.Text)
			return
		case protocol.ErrorFrame:
			t.teardown()
			t.sink.emit(ChannelErrorEvent{Channel: "transcription", Err: core.NewServerSignaledError(f.Message)})
			return
		}
	}
}

// handlePartial replaces (never appends to) the live transcript.
func (t *TranscriptionChannel) handlePartial(text string) {
	t.mu.Lock()
	stale := t.state == TranscriptionIdle
	t.mu.Unlock()
	if stale {
		return
	}
	if t.ledger != nil {
		t.ledger.SetLiveTranscript(text)
	}
	t.sink.emit(TranscriptPartialEvent{Text: text})
}

// handleFinal clears the live transcript and, when the trimmed text is
// non-empty, hands the utterance to the sink exactly once. The channel
// transitions to idle and its connection closes either way.
func (t *TranscriptionChannel) handleFinal(text string) {
	t.mu.Lock()
	stale := t.state == TranscriptionIdle
	sessionID := t.sessionID
	t.mu.Unlock()

	t.teardown()
	if stale {
		return
	}
	if t.ledger != nil {
		t.ledger.SetLiveTranscript("")
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		t.sink.emit(UtteranceEvent{SessionID: sessionID, Text: trimmed})
	}
}

// Stop signals end-of-utterance to the server and stops local capture.
// Finality is decided by the server's final event, not by capture stopping.
// If the connection is already gone, Stop degrades to a local-only reset.
func (t *TranscriptionChannel) Stop() {
	t.mu.Lock()
	if t.state != TranscriptionCapturing {
		t.mu.Unlock()
		return
	}
	t.state = TranscriptionAwaitingFinal
	conn := t.conn
	capture := t.capture
	t.capture = nil
	t.mu.Unlock()

	// Stop the chunker and wait for its last flush so the control frame is
	// the final thing sent on the connection.
	t.stopChunker()
	if capture != nil {
		_ = capture.Close()
	}
	select {
	case <-t.flushed:
	case <-time.After(2 * time.Second):
	}

	if conn == nil {
		t.reset()
		return
	}
	t.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.FinalControl))
	t.writeMu.Unlock()
	if err != nil {
		t.teardown()
	}
}

// Close cancels the recording without waiting for a final transcript. No
// utterance is produced.
func (t *TranscriptionChannel) Close() {
	t.teardown()
}

// reset returns the channel to idle without touching the connection.
func (t *TranscriptionChannel) reset() {
	t.mu.Lock()
	t.state = TranscriptionIdle
	t.mu.Unlock()
}

// teardown releases every resource: capture device, chunker, connection.
// Safe to call from any exit path, any number of times.
func (t *TranscriptionChannel) teardown() {
	t.stopChunker()

	t.mu.Lock()
	capture := t.capture
	conn := t.conn
	t.capture = nil
	t.conn = nil
	t.state = TranscriptionIdle
	t.mu.Unlock()

	if capture != nil {
		_ = capture.Close()
	}
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
}
