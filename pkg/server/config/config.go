// Package config loads the nera server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults shared with the original deployment.
const (
	DefaultSystemPrompt = "You are an intelligent friend. Respond concisely and naturally, with clear reasoning. " +
		"If you don't know, say so. Avoid robotic tone."
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Storage. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// LLM streaming provider: openrouter, gemini, or echo.
	LLMProvider      string
	OpenRouterAPIKey string
	OpenRouterAPIURL string
	LLMModel         string
	GeminiAPIKey     string
	GeminiModel      string
	SystemPrompt     string

	// ASR (ffmpeg decode + whisper transcription).
	FFmpegPath   string
	WhisperPath  string
	WhisperModel string
	// MaxAudioBufferBytes bounds the per-connection utterance buffer.
	MaxAudioBufferBytes int64

	// TTS (piper).
	PiperPath       string
	PiperVoiceEN    string
	PiperVoiceRU    string
	TTSVoiceDefault string

	// Document retrieval (Jina embeddings, or a local fallback without a key).
	JinaAPIKey       string
	JinaAPIURL       string
	JinaEmbedModel   string
	MaxDocumentBytes int64
	MaxDocuments     int

	// WebSocket limits.
	WSMaxMessageBytes int64
	WSIdleTimeout     time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:               envOr("NERA_ADDR", ":8000"),
		CORSAllowedOrigins: make(map[string]struct{}),

		DatabaseURL: envOr("NERA_DATABASE_URL", ""),

		LLMProvider:      strings.ToLower(envOr("NERA_LLM_PROVIDER", "openrouter")),
		OpenRouterAPIKey: envOr("OPENROUTER_API_KEY", ""),
		OpenRouterAPIURL: envOr("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		LLMModel:         envOr("NERA_LLM_MODEL", "x-ai/grok-4-fast:free"),
		GeminiAPIKey:     envOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		GeminiModel:      envOr("NERA_GEMINI_MODEL", "gemini-2.0-flash"),
		SystemPrompt:     envOr("NERA_SYSTEM_PROMPT", DefaultSystemPrompt),

		FFmpegPath:          envOr("FFMPEG_PATH", "ffmpeg"),
		WhisperPath:         envOr("WHISPER_PATH", ""),
		WhisperModel:        envOr("WHISPER_MODEL", ""),
		MaxAudioBufferBytes: envInt64Or("NERA_MAX_AUDIO_BUFFER_BYTES", 32<<20), // 32 MiB

		PiperPath:       envOr("PIPER_PATH", ""),
		PiperVoiceEN:    envOr("PIPER_VOICE_EN", ""),
		PiperVoiceRU:    envOr("PIPER_VOICE_RU", ""),
		TTSVoiceDefault: strings.ToLower(envOr("NERA_TTS_VOICE_DEFAULT", "en")),

		JinaAPIKey:       envOr("JINA_API_KEY", ""),
		JinaAPIURL:       envOr("JINA_API_URL", "https://api.jina.ai/v1/embeddings"),
		JinaEmbedModel:   envOr("NERA_JINA_EMBED_MODEL", "jina-embeddings-v4"),
		MaxDocumentBytes: envInt64Or("NERA_MAX_DOCUMENT_BYTES", 50<<20), // 50 MiB
		MaxDocuments:     int(envInt64Or("NERA_MAX_DOCUMENTS", 1000)),

		WSMaxMessageBytes: envInt64Or("NERA_WS_MAX_MESSAGE_BYTES", 8<<20), // 8 MiB
		WSIdleTimeout:     envDurationOr("NERA_WS_IDLE_TIMEOUT", 5*time.Minute),

		ReadHeaderTimeout:   envDurationOr("NERA_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("NERA_SHUTDOWN_GRACE", 15*time.Second),
	}

	for _, origin := range strings.Split(envOr("NERA_CORS_ORIGINS", "http://localhost:5173"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSAllowedOrigins[origin] = struct{}{}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openrouter", "gemini", "echo":
	default:
		return fmt.Errorf("NERA_LLM_PROVIDER must be openrouter, gemini, or echo (got %q)", c.LLMProvider)
	}
	if c.MaxAudioBufferBytes <= 0 {
		return fmt.Errorf("NERA_MAX_AUDIO_BUFFER_BYTES must be positive")
	}
	if c.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("NERA_WS_MAX_MESSAGE_BYTES must be positive")
	}
	return nil
}

// PiperVoicePath maps a requested voice name to the configured voice model.
func (c Config) PiperVoicePath(voice string) string {
	switch strings.ToLower(strings.TrimSpace(voice)) {
	case "ru":
		if c.PiperVoiceRU != "" {
			return c.PiperVoiceRU
		}
		return c.PiperVoiceEN
	default:
		if c.PiperVoiceEN != "" {
			return c.PiperVoiceEN
		}
		return c.PiperVoiceRU
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
