// Package providers holds the speech and language backends the gateway
// delegates to: transcription, streamed chat completion, and synthesis.
package providers

import "context"

// ChatRequest is one prompt to stream a completion for.
type ChatRequest struct {
	UserText     string
	SystemPrompt string
	MemoryNotes  string
}

// Transcriber turns a buffered Ogg/Opus utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, opusAudio []byte) (string, error)
}

// ChatStreamer streams completion text fragments through emit, in order.
// emit returning an error aborts the stream.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req ChatRequest, emit func(token string) error) error
}

// Synthesizer renders text to a playable audio blob. codec is the MIME type
// of the returned bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) (audio []byte, codec string, err error)
}
