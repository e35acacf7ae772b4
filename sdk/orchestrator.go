package nera

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/0himera/neraAIchat/pkg/core"
)

// Config is the client-side configuration surface consumed by the
// orchestrator.
type Config struct {
	// ChunkInterval is the microphone chunk flush interval, clamped to
	// [MinChunkInterval, MaxChunkInterval].
	ChunkInterval time.Duration
	// Voice selects the synthesis voice.
	Voice string
	// PlaybackSpeed is the synthesis speed multiplier, clamped to
	// [MinPlaybackSpeed, MaxPlaybackSpeed].
	PlaybackSpeed float64
	// VoiceOutput enables queuing finalized assistant replies for speech.
	VoiceOutput bool
	// SystemPrompt and MemoryNotes are forwarded verbatim with every
	// completion request.
	SystemPrompt string
	MemoryNotes  string
}

// Orchestrator wires the three channels around one shared conversation
// state: transcription output feeds completion input, and finalized
// assistant replies feed the speech queue via the ledger's status
// transitions. It owns channel lifecycles but not their internals.
type Orchestrator struct {
	client   *Client
	ledger   *Ledger
	registry *Registry
	speech   *SpeechQueue
	uiSink   EventSink

	mu             sync.Mutex
	cfg            Config
	transcription  *TranscriptionChannel
	completion     *CompletionChannel
	captureFactory func() (AudioCapture, error)
}

// NewOrchestrator builds the full client pipeline. player may be nil when
// voice output will never be enabled. uiSink receives every channel event for
// display and may be nil.
func NewOrchestrator(client *Client, player Player, cfg Config, uiSink EventSink) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		ledger:         NewLedger(),
		registry:       NewRegistry(),
		uiSink:         uiSink,
		cfg:            cfg,
		captureFactory: NewMicrophoneCapture,
	}
	o.speech = client.NewSpeechQueue(player, cfg.Voice, cfg.PlaybackSpeed, o.forward)
	o.speech.SetEnabled(cfg.VoiceOutput)

	// The enqueue trigger observes ledger status transitions; the
	// forward-only status rule makes it fire exactly once per message.
	o.ledger.OnAssistantFinal(func(message Message) {
		o.speech.Enqueue(message.ID, message.Text)
	})
	return o
}

// SetCaptureFactory overrides how recording opens the microphone. Used by
// front ends with their own capture stack and by tests.
func (o *Orchestrator) SetCaptureFactory(factory func() (AudioCapture, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if factory != nil {
		o.captureFactory = factory
	}
}

// Ledger returns the message ledger.
func (o *Orchestrator) Ledger() *Ledger { return o.ledger }

// Registry returns the session registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Speech returns the speech queue.
func (o *Orchestrator) Speech() *SpeechQueue { return o.speech }

func (o *Orchestrator) forward(event ChannelEvent) {
	if o.uiSink != nil {
		o.uiSink(event)
	}
}

// transcriptionSink forwards events from one transcription instance,
// dropping everything from a superseded recording except nothing at all:
// stale instances are fully silenced.
func (o *Orchestrator) transcriptionSink(owner **TranscriptionChannel) EventSink {
	var self *TranscriptionChannel
	return func(event ChannelEvent) {
		o.mu.Lock()
		if self == nil {
			self = *owner
		}
		current := o.transcription == self
		o.mu.Unlock()
		if !current {
			return
		}
		if utterance, ok := event.(UtteranceEvent); ok {
			o.handleUtterance(utterance)
			return
		}
		o.forward(event)
	}
}

// handleUtterance is the transcription-to-completion hinge: a completed
// utterance becomes a prompt on the session it was recorded against, unless
// the active session changed underneath it.
func (o *Orchestrator) handleUtterance(utterance UtteranceEvent) {
	activeID := o.registry.ActiveID()
	if activeID == "" {
		o.forward(ChannelErrorEvent{Channel: "orchestrator", Err: core.NewNoActiveSessionError("")})
		return
	}
	if utterance.SessionID != "" && utterance.SessionID != activeID {
		return
	}
	o.forward(utterance)
	if _, _, err := o.SendPrompt(utterance.Text); err != nil && !IsEmptyInput(err) {
		o.forward(ChannelErrorEvent{Channel: "orchestrator", Err: err})
	}
}

// SendPrompt submits a typed or transcribed prompt on the active session. A
// new send supersedes any still-streaming predecessor.
func (o *Orchestrator) SendPrompt(text string) (userID, assistantID string, err error) {
	activeID := o.registry.ActiveID()
	if activeID == "" {
		return "", "", core.NewNoActiveSessionError("")
	}

	o.mu.Lock()
	previous := o.completion
	completion := o.client.NewCompletion(o.ledger, o.registry, o.forward)
	o.completion = completion
	aux := AuxContext{SystemPrompt: o.cfg.SystemPrompt, MemoryNotes: o.cfg.MemoryNotes}
	o.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	userID, assistantID, err = completion.Send(activeID, text, aux)
	if err != nil {
		o.mu.Lock()
		if o.completion == completion {
			o.completion = nil
		}
		o.mu.Unlock()
	}
	return userID, assistantID, err
}

// StartRecording opens the microphone and a transcription channel on the
// active session. Starting a new recording supersedes the previous one; its
// late events are ignored.
func (o *Orchestrator) StartRecording() error {
	activeID := o.registry.ActiveID()
	if activeID == "" {
		return core.NewNoActiveSessionError("cannot start recording without an active session")
	}

	o.mu.Lock()
	previous := o.transcription
	factory := o.captureFactory
	chunkInterval := o.cfg.ChunkInterval
	o.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	capture, err := factory()
	if err != nil {
		return err
	}

	var channel *TranscriptionChannel
	sink := o.transcriptionSink(&channel)
	channel = o.client.NewTranscription(activeID, o.ledger, sink, chunkInterval)

	o.mu.Lock()
	o.transcription = channel
	o.mu.Unlock()

	if err := channel.Start(capture); err != nil {
		o.mu.Lock()
		if o.transcription == channel {
			o.transcription = nil
		}
		o.mu.Unlock()
		return err
	}
	return nil
}

// StopRecording signals end-of-utterance; the server's final transcript
// event decides what was said.
func (o *Orchestrator) StopRecording() {
	o.mu.Lock()
	channel := o.transcription
	o.mu.Unlock()
	if channel != nil {
		channel.Stop()
	}
}

// Recording reports whether a transcription channel is currently open.
func (o *Orchestrator) Recording() bool {
	o.mu.Lock()
	channel := o.transcription
	o.mu.Unlock()
	return channel != nil && channel.State() != TranscriptionIdle
}

// RefreshSessions reloads the session list from the persistence
// collaborator.
func (o *Orchestrator) RefreshSessions(ctx context.Context) error {
	sessions, err := o.client.Sessions.List(ctx)
	if err != nil {
		return err
	}
	o.registry.ReplaceAll(sessions)
	return nil
}

// SwitchSession makes id the active session and loads its history. Any
// in-flight transcription or completion bound to the previous session is
// closed; its late ledger writes address ids that were cleared and fall
// through as no-ops, while session_update reconciliation still lands in the
// registry.
func (o *Orchestrator) SwitchSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.NewInvalidRequestError("session id must not be empty")
	}

	loaded, err := o.client.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}

	o.closeInflight()

	o.registry.Upsert(loaded.Session)
	o.registry.SetActive(loaded.Session.ID)
	o.ledger.ReplaceAll(loaded.Messages)
	return nil
}

// CreateSession creates a session and switches to it.
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (Session, error) {
	created, err := o.client.Sessions.Create(ctx, title)
	if err != nil {
		return Session{}, err
	}

	o.closeInflight()

	o.registry.Upsert(created.Session)
	o.registry.SetActive(created.Session.ID)
	o.ledger.ReplaceAll(created.Messages)
	return created.Session, nil
}

// RenameSession renames a session and reconciles the registry.
func (o *Orchestrator) RenameSession(ctx context.Context, id, title string) error {
	session, err := o.client.Sessions.Rename(ctx, id, title)
	if err != nil {
		return err
	}
	o.registry.Upsert(session)
	return nil
}

// DeleteSession deletes a session. Deleting the active session clears the
// ledger and reassigns the active id.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	if err := o.client.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	wasActive := o.registry.ActiveID() == id
	if wasActive {
		o.closeInflight()
		o.ledger.Clear()
	}
	o.registry.Remove(id)
	return nil
}

func (o *Orchestrator) closeInflight() {
	o.mu.Lock()
	transcription := o.transcription
	completion := o.completion
	o.transcription = nil
	o.completion = nil
	o.mu.Unlock()

	if transcription != nil {
		transcription.Close()
	}
	if completion != nil {
		completion.Close()
	}
}

// SetVoiceOutput toggles voice-output mode. Disabling empties the speech
// queue immediately.
func (o *Orchestrator) SetVoiceOutput(enabled bool) {
	o.mu.Lock()
	o.cfg.VoiceOutput = enabled
	o.mu.Unlock()
	o.speech.SetEnabled(enabled)
}

// SetVoice selects the synthesis voice.
func (o *Orchestrator) SetVoice(voice string) {
	o.mu.Lock()
	o.cfg.Voice = voice
	o.mu.Unlock()
	o.speech.SetVoice(voice)
}

// SetPlaybackSpeed sets the synthesis speed multiplier.
func (o *Orchestrator) SetPlaybackSpeed(speed float64) {
	o.mu.Lock()
	o.cfg.PlaybackSpeed = speed
	o.mu.Unlock()
	o.speech.SetSpeed(speed)
}

// SetSystemPrompt updates the system prompt forwarded with prompts.
func (o *Orchestrator) SetSystemPrompt(prompt string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.SystemPrompt = prompt
}

// SetMemoryNotes updates the memory notes forwarded with prompts.
func (o *Orchestrator) SetMemoryNotes(notes string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.MemoryNotes = notes
}

// Close tears down in-flight channels and stops speech.
func (o *Orchestrator) Close() {
	o.closeInflight()
	o.speech.SetEnabled(false)
}
