package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/resilience"
)

func TestUpstreamChecker_ClosedBreakerIsReady(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "upstream"})

	c := UpstreamChecker(cb)
	if c.Name != "upstream" {
		t.Errorf("checker name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("closed breaker reported not ready: %v", err)
	}
}

func TestUpstreamChecker_OpenBreakerFails(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "upstream",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })

	if err := UpstreamChecker(cb).Check(context.Background()); err == nil {
		t.Error("open breaker reported ready")
	}
}
