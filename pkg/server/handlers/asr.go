package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0himera/neraAIchat/pkg/protocol"
	"github.com/0himera/neraAIchat/pkg/server/providers"
)

// ASRHandler serves /ws/asr. The client streams binary audio chunks and a
// "final" text frame; the server acknowledges each chunk with a byte-count
// partial and answers the final control with the full transcript.
type ASRHandler struct {
	Transcriber providers.Transcriber
	Logger      *slog.Logger

	// MaxBufferBytes bounds the accumulated utterance; 0 means unbounded.
	MaxBufferBytes  int64
	MaxMessageBytes int64
	IdleTimeout     time.Duration
}

func (h ASRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade(w, r, h.MaxMessageBytes)
	if err != nil {
		return
	}
	defer conn.Close()

	var buffer []byte
	for {
		if h.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.IdleTimeout))
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if h.MaxBufferBytes > 0 && int64(len(buffer)+len(data)) > h.MaxBufferBytes {
				writeErrorFrame(conn, "audio buffer limit exceeded")
				return
			}
			buffer = append(buffer, data...)
			ack := protocol.TranscriptFrame{
				Type: protocol.TypePartial,
				Text: fmt.Sprintf("audio: %d bytes", len(buffer)),
			}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}

		case websocket.TextMessage:
			if strings.ToLower(strings.TrimSpace(string(data))) != protocol.FinalControl {
				continue
			}
			utterance := buffer
			buffer = nil
			text, err := h.Transcriber.Transcribe(r.Context(), utterance)
			if err != nil {
				if h.Logger != nil {
					h.Logger.Error("transcription failed", "error", err, "bytes", len(utterance))
				}
				writeErrorFrame(conn, "transcription failed")
				continue
			}
			final := protocol.TranscriptFrame{Type: protocol.TypeFinal, Text: text}
			if err := conn.WriteJSON(final); err != nil {
				return
			}
		}
	}
}

func upgrade(w http.ResponseWriter, r *http.Request, maxMessageBytes int64) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
	return conn, nil
}

func writeErrorFrame(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(protocol.ErrorFrame{Type: protocol.TypeError, Message: message})
}
