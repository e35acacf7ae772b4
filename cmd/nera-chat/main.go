package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0himera/neraAIchat/internal/dotenv"
	nera "github.com/0himera/neraAIchat/sdk"
)

const (
	defaultBaseURL = "http://127.0.0.1:8000"
	defaultTimeout = 30 * time.Second
)

type chatConfig struct {
	BaseURL       string
	Voice         string
	PlaybackSpeed float64
	ChunkInterval time.Duration
	VoiceOutput   bool
	SystemPrompt  string
	MemoryNotes   string
	Timeout       time.Duration
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("nera-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", envOr(getenv, "NERA_BASE_URL", defaultBaseURL), "nera server base URL")
	fs.StringVar(&cfg.Voice, "voice", "en", "synthesis voice (en, ru)")
	fs.Float64Var(&cfg.PlaybackSpeed, "speed", 1.0, "playback speed multiplier")
	fs.DurationVar(&cfg.ChunkInterval, "chunk-interval", 250*time.Millisecond, "microphone chunk flush interval")
	fs.BoolVar(&cfg.VoiceOutput, "voice-output", false, "speak assistant replies aloud")
	fs.StringVar(&cfg.SystemPrompt, "system", "", "optional system prompt override")
	fs.StringVar(&cfg.MemoryNotes, "memory", "", "optional memory notes forwarded with every prompt")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "REST request timeout")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}
	if err := validateChatConfig(cfg); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

func validateChatConfig(cfg chatConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if parsed.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

// uiState serializes event printing so streamed tokens and prompt redraws
// don't interleave.
type uiState struct {
	out       io.Writer
	errOut    io.Writer
	streaming bool
}

func (u *uiState) handle(event nera.ChannelEvent) {
	switch e := event.(type) {
	case nera.TranscriptPartialEvent:
		fmt.Fprintf(u.errOut, "[mic] %s\n", e.Text)
	case nera.UtteranceEvent:
		fmt.Fprintf(u.out, "you said: %s\n", e.Text)
	case nera.TokenEvent:
		u.streaming = true
		fmt.Fprint(u.out, e.Fragment)
	case nera.CompletionDoneEvent:
		if u.streaming {
			fmt.Fprintln(u.out)
			u.streaming = false
		}
	case nera.SpeechStartedEvent:
		fmt.Fprintln(u.errOut, "[speaking]")
	case nera.SpeechFinishedEvent:
		fmt.Fprintln(u.errOut, "[done speaking]")
	case nera.ChannelErrorEvent:
		if u.streaming {
			fmt.Fprintln(u.out)
			u.streaming = false
		}
		fmt.Fprintf(u.errOut, "error (%s): %v\n", e.Channel, e.Err)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  /record            start microphone capture")
	fmt.Fprintln(out, "  /stop              stop capture and transcribe")
	fmt.Fprintln(out, "  /voice on|off      toggle spoken replies")
	fmt.Fprintln(out, "  /sessions          list sessions")
	fmt.Fprintln(out, "  /new [title]       create a session and switch to it")
	fmt.Fprintln(out, "  /switch <n|id>     switch the active session")
	fmt.Fprintln(out, "  /rename <title>    rename the active session")
	fmt.Fprintln(out, "  /delete [n|id]     delete a session (default: active)")
	fmt.Fprintln(out, "  /history           print the active session history")
	fmt.Fprintln(out, "  /exit              quit")
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out, errOut io.Writer) error {
	client, err := nera.NewClient(cfg.BaseURL, nera.WithTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	var player nera.Player
	if cfg.VoiceOutput {
		player, err = nera.NewFFplayPlayer()
		if err != nil {
			fmt.Fprintf(errOut, "voice output unavailable: %v\n", err)
			cfg.VoiceOutput = false
		}
	}

	ui := &uiState{out: out, errOut: errOut}
	orch := nera.NewOrchestrator(client, player, nera.Config{
		ChunkInterval: cfg.ChunkInterval,
		Voice:         cfg.Voice,
		PlaybackSpeed: cfg.PlaybackSpeed,
		VoiceOutput:   cfg.VoiceOutput,
		SystemPrompt:  cfg.SystemPrompt,
		MemoryNotes:   cfg.MemoryNotes,
	}, ui.handle)
	defer orch.Close()

	if err := orch.RefreshSessions(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if id := orch.Registry().ActiveID(); id == "" {
		if _, err := orch.CreateSession(ctx, ""); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	} else if err := orch.SwitchSession(ctx, id); err != nil {
		// The auto-selected session's history is loaded eagerly so /history
		// works before the first /switch.
		return fmt.Errorf("load session history: %w", err)
	}
	if active, ok := orch.Registry().Active(); ok {
		fmt.Fprintf(out, "connected to %s, session %q\n", cfg.BaseURL, active.Title)
	}
	fmt.Fprintln(out, "type a message, or /help for commands")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			fmt.Fprintln(out, "bye")
			return nil
		}
		if strings.HasPrefix(line, "/") {
			if err := handleCommand(ctx, orch, line, out, errOut); err != nil {
				return err
			}
			continue
		}

		if _, _, err := orch.SendPrompt(line); err != nil {
			fmt.Fprintf(errOut, "send error: %v\n", err)
		}
	}
}

func handleCommand(ctx context.Context, orch *nera.Orchestrator, line string, out, errOut io.Writer) error {
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/help":
		printHelp(out)

	case "/record":
		if err := orch.StartRecording(); err != nil {
			fmt.Fprintf(errOut, "record error: %v\n", err)
			return nil
		}
		fmt.Fprintln(out, "recording; /stop to finish")

	case "/stop":
		orch.StopRecording()

	case "/voice":
		switch strings.ToLower(arg) {
		case "on":
			orch.SetVoiceOutput(true)
			fmt.Fprintln(out, "voice output on")
		case "off":
			orch.SetVoiceOutput(false)
			fmt.Fprintln(out, "voice output off")
		default:
			fmt.Fprintln(errOut, "usage: /voice on|off")
		}

	case "/sessions":
		activeID := orch.Registry().ActiveID()
		for i, session := range orch.Registry().List() {
			marker := " "
			if session.ID == activeID {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %d. %s  (%s)\n", marker, i+1, session.Title, session.ID)
			if session.LastMessagePreview != "" {
				fmt.Fprintf(out, "      %s\n", session.LastMessagePreview)
			}
		}

	case "/new":
		session, err := orch.CreateSession(ctx, arg)
		if err != nil {
			fmt.Fprintf(errOut, "create error: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "switched to new session %q\n", session.Title)

	case "/switch":
		id := resolveSessionArg(orch, arg)
		if id == "" {
			fmt.Fprintln(errOut, "usage: /switch <number|id>")
			return nil
		}
		if err := orch.SwitchSession(ctx, id); err != nil {
			fmt.Fprintf(errOut, "switch error: %v\n", err)
			return nil
		}
		if active, ok := orch.Registry().Active(); ok {
			fmt.Fprintf(out, "switched to %q\n", active.Title)
		}

	case "/rename":
		if arg == "" {
			fmt.Fprintln(errOut, "usage: /rename <title>")
			return nil
		}
		if err := orch.RenameSession(ctx, orch.Registry().ActiveID(), arg); err != nil {
			fmt.Fprintf(errOut, "rename error: %v\n", err)
		}

	case "/delete":
		id := resolveSessionArg(orch, arg)
		if id == "" {
			id = orch.Registry().ActiveID()
		}
		if id == "" {
			fmt.Fprintln(errOut, "nothing to delete")
			return nil
		}
		if err := orch.DeleteSession(ctx, id); err != nil {
			fmt.Fprintf(errOut, "delete error: %v\n", err)
		}

	case "/history":
		for _, message := range orch.Ledger().Messages() {
			fmt.Fprintf(out, "[%s] %s\n", message.Role, message.Text)
		}

	default:
		fmt.Fprintf(errOut, "unknown command %s (try /help)\n", command)
	}
	return nil
}

// resolveSessionArg accepts either a 1-based list index or a session id.
func resolveSessionArg(orch *nera.Orchestrator, arg string) string {
	if arg == "" {
		return ""
	}
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := orch.Registry().List()
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].ID
		}
		return ""
	}
	if _, ok := orch.Registry().Get(arg); ok {
		return arg
	}
	return ""
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "nera-chat: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nera-chat: %v\n", err)
		os.Exit(1)
	}

	if err := runChat(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "nera-chat: %v\n", err)
		os.Exit(1)
	}
}
