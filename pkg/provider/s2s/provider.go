// Package s2s defines the Provider interface for speech-to-speech AI backends.
//
// An S2S provider wraps a real-time generative voice service that accepts raw
// audio and text turns and streams back synthesised audio plus text
// transcripts in a single stateful session. The gateway opens exactly one
// session per connected learner and bridges frames between the learner's
// WebSocket and the session.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel carrying inbound turns one way and audio/transcript events the
// other. Sessions are long-lived (the length of a tutoring conversation).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"time"
)

// Role identifies the author of a transcript event.
type Role string

const (
	// RoleUser marks text recognised from the learner's speech or typed input.
	RoleUser Role = "user"

	// RoleModel marks text generated by the tutor model.
	RoleModel Role = "model"
)

// TranscriptEvent is one piece of session text emitted by the provider, in
// the order the provider produced it.
type TranscriptEvent struct {
	// Role is the author of the text.
	Role Role

	// Text is the transcript fragment. Never empty.
	Text string

	// Timestamp is when the event was observed locally.
	Timestamp time.Time
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the system-level prompt built from the course's
	// reference content. It defines what the tutor teaches and how.
	Instructions string

	// Voice selects the provider voice for synthesised speech. Empty selects
	// the provider default.
	Voice string
}

// Capabilities describes static properties of a provider's underlying model.
type Capabilities struct {
	// ContextWindow is the maximum token count the model can maintain.
	ContextWindow int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice identifiers available for this provider.
	Voices []string
}

// SessionHandle represents one open tutoring session. It is an interface so
// test code can supply scripted implementations without a live connection.
//
// Audio and transcript output is channel-based: the provider's receive loop
// owns both channels and closes them when the session ends. After the Audio
// channel closes, call Err to learn whether the session ended cleanly.
//
// Callers must call Close when the session is no longer needed. Close is
// idempotent.
type SessionHandle interface {
	// SendAudio forwards one complete inbound audio turn. The payload is
	// opaque to the gateway; no buffering happens across calls. Returns an
	// error if the session is closed or the provider rejects the chunk.
	SendAudio(chunk []byte) error

	// SendText forwards one user text turn. The provider treats it like a
	// spoken utterance and responds with audio and transcript events.
	SendText(text string) error

	// Audio emits synthesised audio byte slices as the model speaks. Closed
	// when the session ends. Consumers must drain promptly; the channel is
	// bounded and a stalled consumer stalls the provider's receive loop.
	Audio() <-chan []byte

	// Transcripts emits transcript events for both recognised user speech and
	// generated model text, in provider emission order. Closed when the
	// session ends.
	Transcripts() <-chan TranscriptEvent

	// Err returns the error that terminated the session prematurely, or nil
	// if it ended cleanly. Valid after the Audio channel has closed.
	Err() error

	// Close terminates the session and closes the Audio and Transcripts
	// channels. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any speech-to-speech backend.
//
// Implementations must be safe for concurrent use: the gateway opens one
// session per connected learner, concurrently.
type Provider interface {
	// Connect establishes a new session. The returned handle is ready to
	// accept turns immediately; no provider event can precede a successful
	// return. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
