package gateway

import (
	"sync"
	"testing"
)

// stubSession is a minimal Session for registry tests.
type stubSession struct {
	mu     sync.Mutex
	closed int
}

func (s *stubSession) HandleAudioChunk([]byte) error { return nil }
func (s *stubSession) HandleTranscript(string) error { return nil }

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *stubSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRegistry_SetAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := &stubSession{}

	if prev := r.Set("u1", s); prev != nil {
		t.Errorf("Set on empty registry returned %v", prev)
	}
	if got := r.Get("u1"); got != Session(s) {
		t.Error("Get did not return the stored session")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_SetReturnsDisplacedSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	first := &stubSession{}
	second := &stubSession{}

	r.Set("u1", first)
	prev := r.Set("u1", second)
	if prev != Session(first) {
		t.Error("Set did not hand back the displaced session")
	}
	if got := r.Get("u1"); got != Session(second) {
		t.Error("newer session did not win")
	}
}

func TestRegistry_EvictAndCloseIsSynchronous(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := &stubSession{}
	r.Set("u1", s)

	if !r.EvictAndClose("u1") {
		t.Fatal("EvictAndClose reported no eviction")
	}
	if s.closeCount() != 1 {
		t.Error("session not closed before EvictAndClose returned")
	}
	if r.Get("u1") != nil {
		t.Error("session still registered after eviction")
	}
	if r.EvictAndClose("u1") {
		t.Error("second eviction reported a session")
	}
}

func TestRegistry_ReleaseOnlyRemovesMatchingSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	old := &stubSession{}
	newer := &stubSession{}

	r.Set("u1", old)
	r.Set("u1", newer)

	// The displaced connection's teardown must not remove its successor.
	r.Release("u1", old)
	if got := r.Get("u1"); got != Session(newer) {
		t.Fatal("Release removed the successor's registration")
	}

	r.Release("u1", newer)
	if r.Get("u1") != nil {
		t.Error("Release did not remove the matching session")
	}
}

func TestRegistry_AllAndClear(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Set("u1", &stubSession{})
	r.Set("u2", &stubSession{})

	if got := len(r.All()); got != 2 {
		t.Errorf("All returned %d sessions, want 2", got)
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", r.Len())
	}
}
