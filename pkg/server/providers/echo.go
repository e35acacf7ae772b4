package providers

import (
	"context"
	"time"
)

// EchoStreamer replays the user's text one rune at a time. It stands in when
// no LLM key is configured, and gives the tests a deterministic token stream.
type EchoStreamer struct {
	// Delay between runes; zero means no pacing.
	Delay time.Duration
}

func (e *EchoStreamer) StreamChat(ctx context.Context, req ChatRequest, emit func(token string) error) error {
	for _, r := range req.UserText {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(string(r)); err != nil {
			return err
		}
		if e.Delay > 0 {
			time.Sleep(e.Delay)
		}
	}
	return nil
}
