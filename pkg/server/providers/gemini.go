package providers

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// GeminiStreamer streams chat completions from the Gemini API.
type GeminiStreamer struct {
	apiKey string
	model  string
	logger *slog.Logger
}

func NewGeminiStreamer(apiKey, model string, logger *slog.Logger) *GeminiStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiStreamer{apiKey: apiKey, model: model, logger: logger}
}

func (g *GeminiStreamer) StreamChat(ctx context.Context, req ChatRequest, emit func(token string) error) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	system := req.SystemPrompt
	if req.MemoryNotes != "" {
		system += "\n\nNotes about the user:\n" + req.MemoryNotes
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	for resp, err := range client.Models.GenerateContentStream(ctx, g.model, genai.Text(req.UserText), config) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		token := resp.Text()
		if token == "" {
			continue
		}
		if err := emit(token); err != nil {
			return err
		}
	}
	return nil
}
