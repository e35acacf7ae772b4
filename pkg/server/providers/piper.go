package providers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// PiperSynthesizer shells out to a Piper binary to render WAV speech.
type PiperSynthesizer struct {
	piperPath string
	// voicePath maps a requested voice code ("en", "ru") to an .onnx model.
	voicePath func(voice string) string
	logger    *slog.Logger
}

func NewPiperSynthesizer(piperPath string, voicePath func(voice string) string, logger *slog.Logger) *PiperSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PiperSynthesizer{piperPath: piperPath, voicePath: voicePath, logger: logger}
}

func (p *PiperSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, string, error) {
	model := p.voicePath(voice)
	if model == "" {
		return nil, "", fmt.Errorf("no voice model configured for %q", voice)
	}

	dir, err := os.MkdirTemp("", "nera-tts-*")
	if err != nil {
		return nil, "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	outPath := filepath.Join(dir, "speech.wav")

	args := []string{"--model", model, "--output_file", outPath}
	if speed > 0 {
		// Piper's length_scale is the inverse of playback speed.
		lengthScale := 1.0 / speed
		if lengthScale < 0.25 {
			lengthScale = 0.25
		}
		if lengthScale > 4.0 {
			lengthScale = 4.0
		}
		args = append(args, "--length_scale", fmt.Sprintf("%.3f", lengthScale))
	}

	cmd := exec.CommandContext(ctx, p.piperPath, args...)
	cmd.Stdin = bytes.NewReader(append([]byte(text), '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.logger.Error("piper failed", "error", err, "stderr", truncateOutput(stderr.String()))
		return nil, "", fmt.Errorf("piper: %w", err)
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, "", fmt.Errorf("read piper output: %w", err)
	}
	if len(wav) < 44 || !bytes.HasPrefix(wav, []byte("RIFF")) {
		return nil, "", fmt.Errorf("piper produced no audio")
	}
	return wav, "audio/wav", nil
}
