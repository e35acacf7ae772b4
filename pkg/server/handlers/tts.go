package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/protocol"
	"github.com/0himera/neraAIchat/pkg/server/providers"
)

// TTSHandler serves /ws/tts. Each client frame is one synthesis request; the
// server answers with a start frame declaring the codec, the audio as binary
// frames, and an end frame with the byte total.
type TTSHandler struct {
	Synthesizer  providers.Synthesizer
	DefaultVoice string
	Logger       *slog.Logger

	MaxMessageBytes int64
	IdleTimeout     time.Duration

	// AudioChunkBytes splits the synthesized blob into binary frames; 0 sends
	// one frame.
	AudioChunkBytes int
}

func (h TTSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade(w, r, h.MaxMessageBytes)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		if h.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.IdleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.SynthesisRequest
		if err := json.Unmarshal(data, &req); err != nil {
			req = protocol.SynthesisRequest{Text: string(data)}
		}
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			writeErrorFrame(conn, "empty text")
			continue
		}
		voice := strings.ToLower(strings.TrimSpace(req.Voice))
		if voice == "" {
			voice = h.DefaultVoice
		}
		var speed float64
		if req.Speed != nil {
			speed = *req.Speed
		}

		audio, codec, err := h.Synthesizer.Synthesize(r.Context(), req.Text, voice, speed)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Error("synthesis failed", "error", err, "voice", voice)
			}
			writeErrorFrame(conn, "synthesis failed")
			continue
		}
		if len(audio) == 0 {
			writeErrorFrame(conn, "synthesis produced no audio")
			continue
		}

		if err := conn.WriteJSON(protocol.StartFrame{Type: protocol.TypeStart, Codec: codec}); err != nil {
			return
		}
		for _, chunk := range splitChunks(audio, h.AudioChunkBytes) {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
		if err := conn.WriteJSON(protocol.EndFrame{Type: protocol.TypeEnd, Bytes: len(audio)}); err != nil {
			return
		}
	}
}

func splitChunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, len(data)/size+1)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}
