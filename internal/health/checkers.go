package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/resilience"
)

// DatabaseChecker reports readiness of the platform database.
func DatabaseChecker(pool *pgxpool.Pool) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}

// UpstreamChecker reports the circuit breaker guarding the generative speech
// backend. An open breaker means new sessions would be rejected, so the
// instance is not ready for fresh traffic.
func UpstreamChecker(breaker *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "upstream",
		Check: func(context.Context) error {
			if state := breaker.State(); state == resilience.StateOpen {
				return fmt.Errorf("circuit breaker is %s", state)
			}
			return nil
		},
	}
}
