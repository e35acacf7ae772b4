package nera

import (
	"context"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/protocol"
)

// Playback speed bounds. Values outside the range are clamped.
const (
	MinPlaybackSpeed = 0.5
	MaxPlaybackSpeed = 2.0
)

// SpeechItem is one queued text to speak, tied to its source message.
type SpeechItem struct {
	MessageID string
	Text      string
}

// SpeechQueue drains finalized assistant replies through the /ws/tts
// synthesis connection one at a time, in strict FIFO order. Admission
// rejects an item whose message id is already queued, so re-finalizing the
// same reply never speaks it twice. A failed item is popped and the queue
// advances; one bad item never stalls the rest.
type SpeechQueue struct {
	client *Client
	player Player
	sink   EventSink

	mu       sync.Mutex
	enabled  bool
	voice    string
	speed    float64
	queue    []speechEntry
	queued   map[string]struct{}
	nextGen  uint64
	draining bool
	cancel   context.CancelFunc
}

// speechEntry tags an admitted item with an admission number so the drain
// loop pops exactly the entry it spoke. Comparing message ids is not enough:
// the same id may be re-admitted after a disable-driven clear while the old
// head is still in flight.
type speechEntry struct {
	SpeechItem
	gen uint64
}

// NewSpeechQueue creates a queue playing through player. The queue starts
// disabled; nothing is spoken until voice-output mode is enabled.
func (c *Client) NewSpeechQueue(player Player, voice string, speed float64, sink EventSink) *SpeechQueue {
	return &SpeechQueue{
		client: c,
		player: player,
		sink:   sink,
		voice:  voice,
		speed:  clampSpeed(speed),
		queued: make(map[string]struct{}),
	}
}

func clampSpeed(speed float64) float64 {
	switch {
	case speed == 0:
		return 1.0
	case speed < MinPlaybackSpeed:
		return MinPlaybackSpeed
	case speed > MaxPlaybackSpeed:
		return MaxPlaybackSpeed
	}
	return speed
}

// SetVoice selects the synthesis voice for subsequent items.
func (q *SpeechQueue) SetVoice(voice string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.voice = strings.TrimSpace(voice)
}

// SetSpeed sets the playback speed multiplier for subsequent items.
func (q *SpeechQueue) SetSpeed(speed float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.speed = clampSpeed(speed)
}

// Enabled reports whether voice-output mode is on.
func (q *SpeechQueue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// SetEnabled toggles voice-output mode. Disabling clears the queue
// immediately and abandons any in-flight synthesis; already-started audio is
// stopped.
func (q *SpeechQueue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	var cancel context.CancelFunc
	if !enabled {
		q.queue = nil
		q.queued = make(map[string]struct{})
		cancel = q.cancel
	}
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !enabled && q.player != nil {
		q.player.Stop()
	}
}

// Len returns the current queue depth, including the in-flight head.
func (q *SpeechQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Enqueue admits one item. Items are rejected while voice-output mode is
// disabled, when the trimmed text is empty, or when the message id is
// already present anywhere in the queue. Returns whether the item was
// admitted.
func (q *SpeechQueue) Enqueue(messageID, text string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" || strings.TrimSpace(text) == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.enabled {
		return false
	}
	if _, dup := q.queued[messageID]; dup {
		return false
	}
	q.queued[messageID] = struct{}{}
	q.nextGen++
	q.queue = append(q.queue, speechEntry{
		SpeechItem: SpeechItem{MessageID: messageID, Text: text},
		gen:        q.nextGen,
	})
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	return true
}

// drain synthesizes and plays the head item, pops it, and proceeds until the
// queue empties or voice-output mode is disabled. Exactly one synthesis or
// playback is in flight at any time.
func (q *SpeechQueue) drain() {
	for {
		q.mu.Lock()
		if !q.enabled || len(q.queue) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.queue[0]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		voice := q.voice
		speed := q.speed
		q.mu.Unlock()

		err := q.speak(ctx, head.SpeechItem, voice, speed)
		cancel()

		q.mu.Lock()
		q.cancel = nil
		// The queue may have been cleared, or cleared and refilled with the
		// same message id, while the head was in flight. Only the exact
		// entry that was spoken is popped.
		if len(q.queue) > 0 && q.queue[0].gen == head.gen {
			q.queue = q.queue[1:]
			delete(q.queued, head.MessageID)
		}
		q.mu.Unlock()

		q.sink.emit(SpeechFinishedEvent{MessageID: head.MessageID, Err: err})
	}
}

// synthAccumulator is the connection-scoped audio buffer: one per synthesis
// exchange, discarded when the connection closes.
type synthAccumulator struct {
	codec  string
	chunks [][]byte
	total  int
}

func (a *synthAccumulator) add(chunk []byte) {
	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	a.chunks = append(a.chunks, copied)
	a.total += len(copied)
}

func (a *synthAccumulator) clip(messageID string) Clip {
	data := make([]byte, 0, a.total)
	for _, chunk := range a.chunks {
		data = append(data, chunk...)
	}
	return Clip{MessageID: messageID, Codec: a.codec, Data: data}
}

// speak runs one full synthesis exchange and plays the result.
func (q *SpeechQueue) speak(ctx context.Context, item SpeechItem, voice string, speed float64) error {
	conn, err := q.client.dial("/ws/tts")
	if err != nil {
		return err
	}
	defer conn.Close()

	// Cancellation is closure-based: closing the connection is the only way
	// to unblock a pending read.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	request := protocol.SynthesisRequest{Text: item.Text, Voice: voice}
	if speed > 0 {
		request.Speed = &speed
	}
	if err := conn.WriteJSON(request); err != nil {
		return &TransportError{Op: "WRITE", Err: err}
	}

	acc := &synthAccumulator{}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Op: "READ", Err: err}
		}

		if messageType == websocket.BinaryMessage {
			if acc.codec == "" {
				// Audio before the start frame has no declared codec.
				return core.NewAPIError("synthesis audio arrived before start frame")
			}
			acc.add(data)
			continue
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case protocol.StartFrame:
			acc.codec = f.Codec
		case protocol.EndFrame:
			return q.play(ctx, acc.clip(item.MessageID))
		case protocol.ErrorFrame:
			return core.NewServerSignaledError(f.Message)
		}
	}
}

func (q *SpeechQueue) play(ctx context.Context, clip Clip) error {
	if len(clip.Data) == 0 {
		return core.NewAPIError("synthesis produced no audio")
	}
	if q.player == nil {
		return nil
	}
	q.sink.emit(SpeechStartedEvent{MessageID: clip.MessageID})
	return q.player.Play(ctx, clip)
}

// Pause pauses the currently playing item. Queue order is unaffected.
func (q *SpeechQueue) Pause() error {
	if q.player == nil {
		return nil
	}
	return q.player.Pause()
}

// Resume resumes paused playback.
func (q *SpeechQueue) Resume() error {
	if q.player == nil {
		return nil
	}
	return q.player.Resume()
}

// SetVolume adjusts playback volume for the current item.
func (q *SpeechQueue) SetVolume(volume float64) error {
	if q.player == nil {
		return nil
	}
	return q.player.SetVolume(volume)
}
