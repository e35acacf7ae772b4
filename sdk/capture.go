package nera

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

const captureSampleRateHz = 16000

// AudioCapture is the microphone device feeding a transcription channel.
// Read returns encoded audio bytes as they become available; Close releases
// the device.
type AudioCapture interface {
	Read(p []byte) (int, error)
	Close() error
}

// ffmpegCapture records the default microphone as a mono 16 kHz Ogg/Opus
// stream, the format the /ws/asr endpoint decodes.
type ffmpegCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// NewMicrophoneCapture opens the default system microphone via ffmpeg.
func NewMicrophoneCapture() (AudioCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &ffmpegCapture{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", captureSampleRateHz),
		"-c:a", "libopus",
		"-f", "ogg",
		"-",
	)
	return args, nil
}

func (m *ffmpegCapture) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *ffmpegCapture) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}
