package providers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperTranscriber shells out to a whisper.cpp binary. Incoming Opus audio
// is first decoded to mono 16kHz WAV with ffmpeg, the sample format whisper
// expects.
type WhisperTranscriber struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	logger      *slog.Logger
}

func NewWhisperTranscriber(ffmpegPath, whisperPath, modelPath string, logger *slog.Logger) *WhisperTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperTranscriber{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelPath:   modelPath,
		logger:      logger,
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, opusAudio []byte) (string, error) {
	if len(opusAudio) == 0 {
		return "", nil
	}
	wav, err := w.decodeToWAV(ctx, opusAudio)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "nera-asr-*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "utterance.wav")
	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.whisperPath,
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", "auto",
		"--no-timestamps",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		w.logger.Error("whisper failed", "error", err, "stderr", truncateOutput(stderr.String()))
		return "", fmt.Errorf("whisper: %w", err)
	}
	return collapseWhitespace(stdout.String()), nil
}

func (w *WhisperTranscriber) decodeToWAV(ctx context.Context, opusAudio []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, w.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(opusAudio)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, truncateOutput(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[:400]
	}
	return s
}
