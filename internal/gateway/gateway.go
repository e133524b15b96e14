// Package gateway accepts voice-tutor WebSocket connections, enforces the
// one-session-per-user rule, and pumps frames between the client and its
// bridge.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/auth"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/bridge"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/observe"
)

// pingTimeout bounds a single heartbeat round trip.
const pingTimeout = 10 * time.Second

// Factory builds the session for an authenticated connection. In production
// this wraps bridge.New; tests substitute scripted sessions.
type Factory func(ctx context.Context, userID, courseID string, tp bridge.Transport) (Session, error)

// Gateway is the WebSocket entry point of the voice tutor.
type Gateway struct {
	verifier  *auth.Verifier
	registry  *Registry
	factory   Factory
	heartbeat time.Duration
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// New creates a Gateway. A zero heartbeat defaults to 30 seconds.
func New(verifier *auth.Verifier, registry *Registry, factory Factory, heartbeat time.Duration, metrics *observe.Metrics, logger *slog.Logger) *Gateway {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier:  verifier,
		registry:  registry,
		factory:   factory,
		heartbeat: heartbeat,
		metrics:   metrics,
		logger:    logger,
	}
}

// Registry exposes the session registry, for readiness checks and shutdown.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// errorFrame is the JSON payload sent to the client when a single frame
// fails. The connection stays open.
type errorFrame struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// liveSession is what the gateway registers for a connection: closing it
// runs the connection's one-shot teardown, so eviction and shutdown tear
// down the client's WebSocket along with the session instead of leaving a
// half-dead connection behind.
type liveSession struct {
	Session
	teardown func(websocket.StatusCode, string)
}

func (s *liveSession) Close() error {
	s.teardown(websocket.StatusGoingAway, "session ended by server")
	return nil
}

// clientTransport adapts a WebSocket connection to bridge.Transport.
type clientTransport struct {
	conn *websocket.Conn
}

func (t *clientTransport) WriteAudio(ctx context.Context, chunk []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, chunk)
}

// Abort closes the connection with an internal-error status. The gateway's
// read loop observes the closed connection and runs the one-shot teardown.
func (t *clientTransport) Abort(reason string) {
	_ = t.conn.Close(websocket.StatusInternalError, reason)
}

// ServeHTTP upgrades the connection and runs the session to completion. The
// fixed order is: verify identity, check parameters, evict any previous
// session for the user, build the bridge, register, pump frames.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	identity, err := g.verifier.Verify(r)
	if err != nil {
		g.logger.Info("connection rejected", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}
	log := g.logger.With("user_id", identity.ID)

	courseID := strings.TrimSpace(r.URL.Query().Get("courseId"))
	if courseID == "" {
		log.Info("connection rejected", "reason", "missing courseId")
		_ = conn.Close(websocket.StatusPolicyViolation, "courseId query parameter is required")
		return
	}
	log = log.With("course_id", courseID)

	// A fresh connection always wins over a stale one. The eviction is
	// synchronous so the old session is fully torn down before any resource
	// for the new one is allocated.
	if g.registry.EvictAndClose(identity.ID) {
		log.Info("evicted previous session")
		if g.metrics != nil {
			g.metrics.SessionsEvicted.Add(r.Context(), 1)
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tp := &clientTransport{conn: conn}
	sess, err := g.factory(ctx, identity.ID, courseID, tp)
	if err != nil {
		g.rejectSession(conn, log, err)
		return
	}

	live := &liveSession{Session: sess}
	var teardown sync.Once
	closeSession := func(code websocket.StatusCode, reason string) {
		teardown.Do(func() {
			cancel()
			// The close frame goes out without waiting for the peer's
			// echo; a vanished client must not stall eviction or drain
			// for the full handshake timeout.
			go func() { _ = conn.Close(code, reason) }()
			_ = sess.Close()
			g.registry.Release(identity.ID, live)
			if g.metrics != nil {
				g.metrics.ActiveConnections.Add(context.Background(), -1)
			}
			log.Info("connection closed")
		})
	}
	live.teardown = closeSession
	defer closeSession(websocket.StatusNormalClosure, "")

	// Two connections from the same user can race past the eviction above;
	// Set hands back the loser so exactly one survives.
	if prev := g.registry.Set(identity.ID, live); prev != nil {
		log.Info("evicted concurrent session")
		if g.metrics != nil {
			g.metrics.SessionsEvicted.Add(ctx, 1)
		}
		_ = prev.Close()
	}

	if g.metrics != nil {
		g.metrics.ActiveConnections.Add(ctx, 1)
	}
	log.Info("connection established")

	go g.pingLoop(ctx, conn, log, closeSession)
	g.pump(ctx, conn, sess, log)
}

// rejectSession maps factory failures to close codes: policy violations for
// authorization and content problems, internal error for upstream failures.
func (g *Gateway) rejectSession(conn *websocket.Conn, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, bridge.ErrForbidden):
		log.Info("connection rejected", "reason", "not enrolled")
		_ = conn.Close(websocket.StatusPolicyViolation, "not enrolled in this course")
	case errors.Is(err, bridge.ErrContentUnavailable):
		log.Info("connection rejected", "reason", "no course content")
		_ = conn.Close(websocket.StatusPolicyViolation, "course content unavailable")
	default:
		log.Error("failed to start session", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "failed to start tutoring session")
	}
}

// pump reads client frames until the connection dies. Binary frames carry
// audio, text frames carry typed messages; anything that fails per-frame is
// answered with an error frame, never a disconnect.
func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn, sess Session, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("read loop ended", "error", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if g.metrics != nil {
				g.metrics.RecordInboundFrame(ctx, "audio")
			}
			if err := sess.HandleAudioChunk(data); err != nil {
				g.sendErrorFrame(ctx, conn, "failed to process audio", err, log)
			}

		case websocket.MessageText:
			text := strings.TrimSpace(string(data))
			if text == "" {
				continue
			}
			if g.metrics != nil {
				g.metrics.RecordInboundFrame(ctx, "text")
			}
			if err := sess.HandleTranscript(text); err != nil {
				g.sendErrorFrame(ctx, conn, "failed to process message", err, log)
			}
		}
	}
}

func (g *Gateway) sendErrorFrame(ctx context.Context, conn *websocket.Conn, message string, cause error, log *slog.Logger) {
	log.Warn("frame handling failed", "error", cause)
	if g.metrics != nil {
		g.metrics.FrameErrors.Add(ctx, 1)
	}
	frame := errorFrame{
		Type:      "error",
		Message:   message,
		Details:   cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		log.Debug("error frame write failed", "error", err)
	}
}

// pingLoop sends a heartbeat on every interval tick. A failed ping tears the
// connection down through the same one-shot path as every other exit.
func (g *Gateway) pingLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger, closeSession func(websocket.StatusCode, string)) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	// The pong wait never exceeds the interval itself, so a short heartbeat
	// configuration also bounds failure detection.
	wait := pingTimeout
	if g.heartbeat < wait {
		wait = g.heartbeat
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, wait)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				log.Info("heartbeat failed, closing connection", "error", err)
				closeSession(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// Shutdown drains every live session concurrently. Individual close failures
// are logged but never interrupt the drain. When ctx expires before every
// close settles, Shutdown stops waiting and returns; the registry is empty
// either way.
func (g *Gateway) Shutdown(ctx context.Context) {
	sessions := g.registry.All()
	if len(sessions) == 0 {
		return
	}
	g.logger.Info("draining sessions", "count", len(sessions))

	grp, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		grp.Go(func() error {
			if err := s.Close(); err != nil {
				g.logger.Error("session close failed during drain", "error", err)
			}
			return nil
		})
	}

	drained := make(chan struct{})
	go func() {
		_ = grp.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		g.logger.Info("drain complete")
	case <-ctx.Done():
		g.logger.Warn("drain cut short", "error", ctx.Err())
	}
	g.registry.Clear()
}
