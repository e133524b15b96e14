// Package bridge couples one authenticated client connection to one upstream
// generative speech session and to the transcript store.
//
// A Bridge is created only after the learner's entitlement and the course
// content have been confirmed and the upstream session is open; callers never
// see a half-constructed bridge. Inbound traffic flows through
// [Bridge.HandleAudioChunk] and [Bridge.HandleTranscript]; upstream output is
// relayed to the client by a single event loop per bridge.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/enrollment"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/observe"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/resilience"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/transcript"
	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s"
)

// ErrForbidden is returned by [New] when the user is not enrolled in the
// requested course.
var ErrForbidden = errors.New("bridge: user is not enrolled in course")

// ErrContentUnavailable is returned by [New] when the course has no published
// material to ground the tutor on.
var ErrContentUnavailable = errors.New("bridge: course content unavailable")

// ErrClosed is returned by the Handle methods after the bridge has been
// closed.
var ErrClosed = errors.New("bridge: session closed")

// State is the lifecycle phase of a bridge.
type State int

const (
	// StateOpening covers the collaborator checks and upstream connect inside
	// [New]. Callers never observe it.
	StateOpening State = iota

	// StateActive means traffic is flowing in both directions.
	StateActive

	// StateClosing means Close has begun but the event loop has not drained.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the client-facing half of a bridge: the gateway's view of the
// learner's WebSocket connection.
type Transport interface {
	// WriteAudio sends one binary audio frame to the client.
	WriteAudio(ctx context.Context, chunk []byte) error

	// Abort closes the client connection with an internal-error status. It
	// must be idempotent.
	Abort(reason string)
}

// Deps bundles the collaborators a bridge is built from.
type Deps struct {
	Enrollment  enrollment.Provider
	Transcripts transcript.Store
	Upstream    s2s.Provider

	// UpstreamName labels metrics and logs ("gemini-live", "openai-realtime").
	UpstreamName string

	// Voice is the upstream voice preset, passed through verbatim.
	Voice string

	// Breaker guards upstream session opens. Optional; when nil, connects go
	// straight through.
	Breaker *resilience.CircuitBreaker

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Bridge relays traffic between one client connection and one upstream
// session, persisting the text record as it flows.
type Bridge struct {
	userID       string
	courseID     string
	conversation transcript.Conversation

	transport Transport
	session   s2s.SessionHandle
	store     transcript.Store
	metrics   *observe.Metrics
	logger    *slog.Logger
	upstream  string

	mu    sync.Mutex
	state State

	// relayCtx bounds every relay-side call. Close cancels it before
	// waiting for the event loop, so a write stalled on a dead client
	// cannot wedge teardown.
	relayCtx    context.Context
	cancelRelay context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// New runs the pre-session checks and opens the upstream session. The order
// is fixed: entitlement, content, conversation record, upstream connect. No
// durable side effect happens before the entitlement check passes, and the
// bridge is already active when New returns.
func New(ctx context.Context, userID, courseID string, tp Transport, deps Deps) (*Bridge, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("user_id", userID, "course_id", courseID)

	entitled, err := deps.Enrollment.IsEntitled(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !entitled {
		return nil, ErrForbidden
	}

	content, err := deps.Enrollment.ReferenceContent(ctx, courseID)
	if err != nil {
		if errors.Is(err, enrollment.ErrNoContent) {
			return nil, ErrContentUnavailable
		}
		return nil, fmt.Errorf("load course content: %w", err)
	}

	conv, err := deps.Transcripts.CreateConversation(ctx, userID, courseID, "Voice Tutor - "+courseID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	cfg := s2s.SessionConfig{
		Instructions: Instructions(courseID, content),
		Voice:        deps.Voice,
	}

	var session s2s.SessionHandle
	connect := func() error {
		var cerr error
		session, cerr = deps.Upstream.Connect(ctx, cfg)
		return cerr
	}
	start := time.Now()
	if deps.Breaker != nil {
		err = deps.Breaker.Execute(connect)
	} else {
		err = connect()
	}
	if deps.Metrics != nil {
		deps.Metrics.UpstreamConnectDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", deps.UpstreamName)))
	}
	if err != nil {
		return nil, fmt.Errorf("connect upstream: %w", err)
	}

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	b := &Bridge{
		userID:       userID,
		courseID:     courseID,
		conversation: conv,
		transport:    tp,
		session:      session,
		store:        deps.Transcripts,
		metrics:      deps.Metrics,
		logger:       log.With("conversation_id", conv.ID),
		upstream:     deps.UpstreamName,
		state:        StateActive,
		relayCtx:     relayCtx,
		cancelRelay:  cancelRelay,
		done:         make(chan struct{}),
	}
	go b.run()

	b.logger.Info("tutoring session started", "upstream", deps.UpstreamName)
	return b, nil
}

// State returns the current lifecycle phase.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConversationID returns the id of the transcript conversation this bridge
// writes into.
func (b *Bridge) ConversationID() string {
	return b.conversation.ID
}

// HandleAudioChunk forwards one opaque audio frame upstream. Audio is never
// persisted.
func (b *Bridge) HandleAudioChunk(chunk []byte) error {
	if b.State() != StateActive {
		return ErrClosed
	}
	if err := b.session.SendAudio(chunk); err != nil {
		return fmt.Errorf("forward audio: %w", err)
	}
	return nil
}

// HandleTranscript persists the learner's text message and then forwards it
// upstream. The persist happens first so the stored record never shows a
// model reply before the user turn that caused it; a persistence failure is
// logged and does not block the forward.
func (b *Bridge) HandleTranscript(text string) error {
	if b.State() != StateActive {
		return ErrClosed
	}

	ctx := b.relayCtx
	if _, err := b.store.AppendMessage(ctx, b.conversation.ID, transcript.RoleUser, text); err != nil {
		b.logger.Error("failed to persist user message", "error", err)
	} else if b.metrics != nil {
		b.metrics.RecordPersistedMessage(ctx, string(transcript.RoleUser))
	}

	if err := b.session.SendText(text); err != nil {
		return fmt.Errorf("forward text: %w", err)
	}
	return nil
}

// run relays upstream output until both channels close, then inspects the
// session error to decide between a clean end and an abort.
func (b *Bridge) run() {
	defer close(b.done)

	ctx := b.relayCtx
	audio := b.session.Audio()
	transcripts := b.session.Transcripts()

	for audio != nil || transcripts != nil {
		select {
		case chunk, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if err := b.transport.WriteAudio(ctx, chunk); err != nil {
				// Client write failures end the session via the gateway's
				// read loop; nothing to do here but note it.
				b.logger.Debug("client audio write failed", "error", err)
			}

		case ev, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			b.persistEvent(ctx, ev)
		}
	}

	if err := b.session.Err(); err != nil {
		b.logger.Error("upstream session failed", "error", err)
		if b.metrics != nil {
			b.metrics.RecordUpstreamError(ctx, b.upstream)
		}
		b.transport.Abort("upstream session failed")
		return
	}
	b.logger.Info("upstream session ended")
}

func (b *Bridge) persistEvent(ctx context.Context, ev s2s.TranscriptEvent) {
	role := transcript.RoleModel
	if ev.Role == s2s.RoleUser {
		role = transcript.RoleUser
	}
	if _, err := b.store.AppendMessage(ctx, b.conversation.ID, role, ev.Text); err != nil {
		b.logger.Error("failed to persist transcript event", "role", role, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.RecordPersistedMessage(ctx, string(role))
	}
}

// Close tears the bridge down exactly once: the relay context is cancelled,
// the upstream session is closed, the event loop drains, and the state
// settles at [StateClosed]. Close returns even when the client transport has
// stopped accepting writes. Safe to call
// from any goroutine and from concurrent eviction and teardown paths.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state = StateClosing
		b.mu.Unlock()

		// Unblock any relay write in flight before waiting for the drain.
		b.cancelRelay()
		if err := b.session.Close(); err != nil {
			b.logger.Debug("upstream close", "error", err)
		}
		<-b.done

		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()
		b.logger.Info("tutoring session closed")
	})
	return nil
}
