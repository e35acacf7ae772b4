package nera

// ChannelEvent is an event surfaced by one of the three channels. Events are
// delivered synchronously from the channel's read loop, so per-connection
// ordering is preserved and handlers never run concurrently for the same
// connection.
type ChannelEvent interface {
	channelEventType() string
}

// EventSink receives channel events. A nil sink drops them.
type EventSink func(ChannelEvent)

func (s EventSink) emit(event ChannelEvent) {
	if s != nil && event != nil {
		s(event)
	}
}

// TranscriptPartialEvent carries a replaced (not appended) live transcript.
type TranscriptPartialEvent struct {
	Text string
}

func (TranscriptPartialEvent) channelEventType() string { return "transcript_partial" }

// UtteranceEvent is a completed, non-empty user utterance.
type UtteranceEvent struct {
	SessionID string
	Text      string
}

func (UtteranceEvent) channelEventType() string { return "utterance" }

// TokenEvent carries one completion fragment plus the cumulative text so far.
type TokenEvent struct {
	MessageID string
	Fragment  string
	Text      string
}

func (TokenEvent) channelEventType() string { return "token" }

// SessionUpdateEvent is a reconciliation push from the persistence layer.
type SessionUpdateEvent struct {
	Session *Session
	Message *Message
}

func (SessionUpdateEvent) channelEventType() string { return "session_update" }

// CompletionDoneEvent marks a completion reaching terminal final status.
type CompletionDoneEvent struct {
	MessageID string
	Text      string
}

func (CompletionDoneEvent) channelEventType() string { return "completion_done" }

// ChannelErrorEvent surfaces a transport or server-signaled channel error.
type ChannelErrorEvent struct {
	Channel   string
	MessageID string
	Err       error
}

func (ChannelErrorEvent) channelEventType() string { return "channel_error" }

// SpeechStartedEvent marks playback beginning for one queue item.
type SpeechStartedEvent struct {
	MessageID string
}

func (SpeechStartedEvent) channelEventType() string { return "speech_started" }

// SpeechFinishedEvent marks playback or synthesis ending for one queue item.
// Err is nil on clean completion.
type SpeechFinishedEvent struct {
	MessageID string
	Err       error
}

func (SpeechFinishedEvent) channelEventType() string { return "speech_finished" }
