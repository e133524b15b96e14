// Package health serves the gateway's liveness and readiness endpoints.
//
// /healthz reports process liveness plus the number of live tutoring
// sessions. /readyz additionally runs the registered dependency checks
// (database, upstream breaker) and answers 503 when any of them fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// can serve new tutoring sessions.
type Checker struct {
	// Name keys the check's result in the JSON response ("database",
	// "upstream").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the response body shared by both endpoints.
type result struct {
	Status   string            `json:"status"`
	Sessions *int              `json:"active_sessions,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the checker
// list and session counter are fixed at construction.
type Handler struct {
	sessions func() int
	checkers []Checker
}

// New builds a Handler. sessions reports the live tutoring session count and
// may be nil; checkers run on every /readyz request, in order.
func New(sessions func() int, checkers ...Checker) *Handler {
	return &Handler{
		sessions: sessions,
		checkers: append([]Checker(nil), checkers...),
	}
}

func (h *Handler) sessionCount() *int {
	if h.sessions == nil {
		return nil
	}
	n := h.sessions()
	return &n
}

// Healthz is the liveness probe. A process that can serve HTTP and count its
// sessions is alive; this always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Sessions: h.sessionCount()})
}

// Readyz runs every registered check under its own timeout and answers 503
// as soon as any dependency cannot take new sessions.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.runChecks(r.Context())

	res := result{Status: "ok", Sessions: h.sessionCount(), Checks: checks}
	code := http.StatusOK
	if !ok {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ok := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ok
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
