package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	enrollmock "github.com/bad-Al-code/learnsphere-voice-gateway/internal/enrollment/mock"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/resilience"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/transcript"
	transcriptmock "github.com/bad-Al-code/learnsphere-voice-gateway/internal/transcript/mock"
	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s"
	s2smock "github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s/mock"
)

// fakeTransport records audio frames and aborts for assertions.
type fakeTransport struct {
	mu      sync.Mutex
	audio   [][]byte
	aborted bool
	reason  string

	writeErr error
}

func (f *fakeTransport) WriteAudio(_ context.Context, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	f.audio = append(f.audio, buf)
	return nil
}

func (f *fakeTransport) Abort(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	f.reason = reason
}

func (f *fakeTransport) Audio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

func (f *fakeTransport) Aborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

type testEnv struct {
	enrollment *enrollmock.Provider
	store      *transcriptmock.Store
	upstream   *s2smock.Provider
	transport  *fakeTransport
}

func newTestEnv() *testEnv {
	env := &testEnv{
		enrollment: enrollmock.NewProvider(),
		store:      transcriptmock.NewStore(),
		upstream:   &s2smock.Provider{},
		transport:  &fakeTransport{},
	}
	env.enrollment.Allow("user-1", "course-go")
	env.enrollment.Content["course-go"] = "## Goroutines\nA goroutine is a lightweight thread."
	return env
}

func (env *testEnv) deps() Deps {
	return Deps{
		Enrollment:   env.enrollment,
		Transcripts:  env.store,
		Upstream:     env.upstream,
		UpstreamName: "mock",
		Voice:        "Kore",
	}
}

func (env *testEnv) newBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := New(context.Background(), "user-1", "course-go", env.transport, env.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNew_ChecksRunBeforeAnySideEffect(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	_, err := New(context.Background(), "stranger", "course-go", env.transport, env.deps())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(env.store.Conversations()) != 0 {
		t.Error("conversation created for unentitled user")
	}
	if len(env.upstream.ConnectCalls) != 0 {
		t.Error("upstream contacted for unentitled user")
	}
}

func TestNew_ContentUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	delete(env.enrollment.Content, "course-go")

	_, err := New(context.Background(), "user-1", "course-go", env.transport, env.deps())
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	if len(env.store.Conversations()) != 0 {
		t.Error("conversation created despite missing content")
	}
}

func TestNew_PassesInstructionsAndVoiceUpstream(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.newBridge(t)

	if len(env.upstream.ConnectCalls) != 1 {
		t.Fatalf("connect calls = %d, want 1", len(env.upstream.ConnectCalls))
	}
	cfg := env.upstream.ConnectCalls[0]
	if cfg.Voice != "Kore" {
		t.Errorf("voice = %q, want Kore", cfg.Voice)
	}
	if !strings.Contains(cfg.Instructions, "course-go") {
		t.Error("instructions missing course id")
	}
	if !strings.Contains(cfg.Instructions, "lightweight thread") {
		t.Error("instructions missing course material")
	}
}

func TestNew_UpstreamFailureCreatesNoActiveBridge(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.upstream.ConnectErr = errors.New("backend down")

	_, err := New(context.Background(), "user-1", "course-go", env.transport, env.deps())
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestNew_BreakerRejectsFast(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.upstream.ConnectErr = errors.New("backend down")
	deps := env.deps()
	deps.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "upstream",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	for range 2 {
		if _, err := New(context.Background(), "user-1", "course-go", env.transport, deps); err == nil {
			t.Fatal("expected connect error")
		}
	}
	_, err := New(context.Background(), "user-1", "course-go", env.transport, deps)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := len(env.upstream.ConnectCalls); got != 2 {
		t.Errorf("connect calls = %d, want 2 (third rejected by breaker)", got)
	}
}

func TestHandleTranscript_PersistsBeforeForwarding(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	b := env.newBridge(t)

	if err := b.HandleTranscript("what is a channel?"); err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}

	msgs := env.store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "what is a channel?" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
	sess := env.upstream.LastSession()
	if len(sess.TextSent) != 1 || sess.TextSent[0] != "what is a channel?" {
		t.Errorf("forwarded text = %v", sess.TextSent)
	}
}

func TestHandleTranscript_PersistFailureStillForwards(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	b := env.newBridge(t)
	env.store.AppendErr = errors.New("db down")

	if err := b.HandleTranscript("hello"); err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	sess := env.upstream.LastSession()
	if len(sess.TextSent) != 1 {
		t.Error("text not forwarded after persistence failure")
	}
}

func TestHandleAudioChunk_ForwardsWithoutPersisting(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	b := env.newBridge(t)

	if err := b.HandleAudioChunk([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("HandleAudioChunk: %v", err)
	}
	sess := env.upstream.LastSession()
	if len(sess.AudioSent) != 1 {
		t.Fatalf("forwarded audio chunks = %d, want 1", len(sess.AudioSent))
	}
	if len(env.store.Messages()) != 0 {
		t.Error("audio frame was persisted")
	}
}

func TestRun_RelaysModelAudioToClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.newBridge(t)

	sess := env.upstream.LastSession()
	sess.EmitAudio([]byte{0xAA})
	sess.EmitAudio([]byte{0xBB})

	waitFor(t, func() bool { return len(env.transport.Audio()) == 2 })
	audio := env.transport.Audio()
	if audio[0][0] != 0xAA || audio[1][0] != 0xBB {
		t.Errorf("audio order not preserved: %v", audio)
	}
}

func TestRun_PersistsUpstreamTranscriptsWithRoles(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.newBridge(t)

	sess := env.upstream.LastSession()
	sess.EmitTranscript(s2s.RoleUser, "what is a mutex")
	sess.EmitTranscript(s2s.RoleModel, "a mutual exclusion lock")

	waitFor(t, func() bool { return len(env.store.Messages()) == 2 })
	msgs := env.store.Messages()
	if msgs[0].Role != transcript.RoleUser {
		t.Errorf("first message role = %q, want user", msgs[0].Role)
	}
	if msgs[1].Role != transcript.RoleModel {
		t.Errorf("second message role = %q, want model", msgs[1].Role)
	}
}

func TestRun_UpstreamFatalErrorAbortsTransport(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.newBridge(t)

	env.upstream.LastSession().Fail(errors.New("quota exceeded"))

	waitFor(t, env.transport.Aborted)
}

func TestRun_CleanUpstreamEndDoesNotAbort(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	b := env.newBridge(t)

	env.upstream.LastSession().End()
	waitFor(t, func() bool {
		select {
		case <-b.done:
			return true
		default:
			return false
		}
	})
	if env.transport.Aborted() {
		t.Error("transport aborted on clean upstream end")
	}
}

// stalledTransport simulates a client that stopped draining: the first write
// signals arrival and then blocks until the relay context is cancelled.
type stalledTransport struct {
	wrote chan struct{}
}

func (s *stalledTransport) WriteAudio(ctx context.Context, _ []byte) error {
	select {
	case s.wrote <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledTransport) Abort(string) {}

func TestClose_ReturnsWhileClientWriteIsStalled(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	tp := &stalledTransport{wrote: make(chan struct{}, 1)}

	b, err := New(context.Background(), "user-1", "course-go", tp, env.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess := env.upstream.LastSession()
	sess.EmitAudio([]byte{0x01})
	<-tp.wrote // relay loop is now blocked in WriteAudio

	closed := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a client write was stalled")
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestClose_IdempotentAndTerminal(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	b := env.newBridge(t)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if !env.upstream.LastSession().Closed() {
		t.Error("upstream session not closed")
	}
	if err := b.HandleAudioChunk([]byte{0x01}); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleAudioChunk after close = %v, want ErrClosed", err)
	}
	if err := b.HandleTranscript("hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleTranscript after close = %v, want ErrClosed", err)
	}
}

func TestInstructions_Deterministic(t *testing.T) {
	t.Parallel()
	a := Instructions("course-go", "material")
	b := Instructions("course-go", "material")
	if a != b {
		t.Error("instructions not deterministic")
	}
	if !strings.Contains(a, "course-go") || !strings.Contains(a, "material") {
		t.Error("instructions missing inputs")
	}
}
