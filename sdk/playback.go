package nera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Clip is a finalized playable object: one synthesized reply.
type Clip struct {
	MessageID string
	Codec     string
	Data      []byte
}

// Player plays clips one at a time. Controls act on the currently playing
// clip only; queue order is owned by the SpeechQueue.
type Player interface {
	// Play blocks until the clip finishes, is stopped, or ctx is cancelled.
	Play(ctx context.Context, clip Clip) error
	Pause() error
	Resume() error
	Stop()
	// SetVolume takes a 0.0-1.0 multiplier. Applies from the next clip.
	SetVolume(volume float64) error
	// SetRate takes a speed multiplier. Applies from the next clip.
	SetRate(rate float64) error
	Seek(offset time.Duration) error
}

// ErrUnsupportedControl is returned by playback controls the backend cannot
// perform.
var ErrUnsupportedControl = errors.New("playback control not supported by this player")

// ffplayPlayer plays clips by piping them into an ffplay process per clip.
// ffplay detects the container from the stream, so WAV and Ogg both work.
type ffplayPlayer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	paused bool
	volume float64
	rate   float64
}

// NewFFplayPlayer creates a Player backed by the ffplay binary.
func NewFFplayPlayer() (Player, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for speech playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	return &ffplayPlayer{volume: 1.0, rate: 1.0}, nil
}

func (p *ffplayPlayer) Play(ctx context.Context, clip Clip) error {
	p.mu.Lock()
	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-volume", fmt.Sprintf("%d", int(p.volume*100)),
	}
	if p.rate > 0 && p.rate != 1.0 {
		args = append(args, "-af", fmt.Sprintf("atempo=%.2f", p.rate))
	}
	args = append(args, "-i", "pipe:0")
	cmd := exec.Command("ffplay", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.cmd = cmd
	p.paused = false
	p.mu.Unlock()

	writeErr := make(chan error, 1)
	go func() {
		_, err := stdin.Write(clip.Data)
		_ = stdin.Close()
		writeErr <- err
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var playErr error
	select {
	case <-ctx.Done():
		p.Stop()
		<-waitDone
		playErr = ctx.Err()
	case err := <-waitDone:
		// A killed process reports an exit error; stopping is not a failure.
		if err != nil && ctx.Err() == nil && !stoppedByUs(err) {
			playErr = fmt.Errorf("ffplay playback: %w", err)
		}
	}

	p.mu.Lock()
	if p.cmd == cmd {
		p.cmd = nil
		p.paused = false
	}
	p.mu.Unlock()

	select {
	case err := <-writeErr:
		// Broken pipe after an early stop is expected.
		if playErr == nil && err != nil && !errors.Is(err, syscall.EPIPE) && ctx.Err() == nil {
			playErr = fmt.Errorf("feed ffplay: %w", err)
		}
	default:
	}
	return playErr
}

func stoppedByUs(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == syscall.SIGKILL
}

func (p *ffplayPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || p.paused {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}
	p.paused = true
	return nil
}

func (p *ffplayPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || !p.paused {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	p.paused = false
	return nil
}

func (p *ffplayPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		if p.paused {
			_ = p.cmd.Process.Signal(syscall.SIGCONT)
			p.paused = false
		}
		_ = p.cmd.Process.Kill()
	}
}

func (p *ffplayPlayer) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume %.2f out of range [0, 1]", volume)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	return nil
}

func (p *ffplayPlayer) SetRate(rate float64) error {
	if rate < MinPlaybackSpeed || rate > MaxPlaybackSpeed {
		return fmt.Errorf("rate %.2f out of range [%.1f, %.1f]", rate, MinPlaybackSpeed, MaxPlaybackSpeed)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	return nil
}

func (p *ffplayPlayer) Seek(time.Duration) error {
	return ErrUnsupportedControl
}
