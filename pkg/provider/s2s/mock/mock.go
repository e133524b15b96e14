// Package mock provides scripted in-memory implementations of the s2s
// interfaces for tests. Sessions record every turn sent to them and let the
// test inject audio, transcripts, and failures from the provider side.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s"
)

// Compile-time interface checks.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*Session)(nil)

// Provider is a scriptable s2s.Provider. The zero value is usable.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned by every Connect call.
	ConnectErr error

	// ConnectCalls records the config of every Connect call in order.
	ConnectCalls []s2s.SessionConfig

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

// Connect records the call and returns a fresh Session, or ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := NewSession()
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Capabilities returns fixed test metadata.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{ContextWindow: 1000, Voices: []string{"test"}}
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a scriptable s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	// SendErr, when non-nil, is returned by SendAudio and SendText.
	SendErr error

	// AudioSent records every SendAudio payload in order.
	AudioSent [][]byte

	// TextSent records every SendText payload in order.
	TextSent []string

	audioCh     chan []byte
	transcripts chan s2s.TranscriptEvent
	errVal      error
	closed      bool
	closeCalls  int
	closeOnce   sync.Once
}

// NewSession creates a Session with buffered event channels.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan s2s.TranscriptEvent, 64),
	}
}

// SendAudio records the chunk. Fails once the session is closed.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.AudioSent = append(s.AudioSent, buf)
	return nil
}

// SendText records the text. Fails once the session is closed.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.TextSent = append(s.TextSent, text)
	return nil
}

// Audio returns the scripted audio channel.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Transcripts returns the scripted transcript channel.
func (s *Session) Transcripts() <-chan s2s.TranscriptEvent { return s.transcripts }

// Err returns the scripted terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close marks the session closed and closes the event channels. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closeCalls++
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close has been called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// EmitAudio injects one synthesised audio chunk from the provider side.
func (s *Session) EmitAudio(chunk []byte) {
	s.audioCh <- chunk
}

// EmitTranscript injects one transcript event from the provider side.
func (s *Session) EmitTranscript(role s2s.Role, text string) {
	s.transcripts <- s2s.TranscriptEvent{Role: role, Text: text, Timestamp: time.Now()}
}

// Fail terminates the session with err, as a fatal upstream failure would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
}

// End terminates the session cleanly, as a provider-initiated close would.
func (s *Session) End() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
}
