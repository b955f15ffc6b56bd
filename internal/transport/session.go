// Package transport owns the live websocket session against the upstream
// event source: dialing, bounded reconnection, typed inbound dispatch, and
// fire-and-forget outbound intents.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/outagex/outagex-sync/internal/config"
	"github.com/outagex/outagex-sync/internal/metrics"
	"github.com/outagex/outagex-sync/internal/models"
)

// ErrNotConnected is returned by outbound intents while the session is down.
var ErrNotConnected = errors.New("upstream session not connected")

// Sink receives typed inbound events. The view store implements it.
type Sink interface {
	ApplyDetected(models.IncidentDetectedPayload)
	ApplyStatus(models.StatusChangePayload)
	ApplyAgentUpdate(models.AgentUpdatePayload)
	MergeLogs(batch []models.LogEntry, projectID string)
	UpsertTimeline(entry models.TimelineEntry, projectID string)
	ApplySolution(models.SolutionProposedPayload)
	AppendChat(models.ChatMessage)
	ApplyMetrics(models.MetricsUpdatePayload)
	SetConnected(bool)
}

// Session is the singleton connection owner. Connect is idempotent; only the
// lifecycle owner calls Connect/Disconnect, other components observe
// connectivity through the store flag and emit intents.
type Session struct {
	cfg    config.UpstreamConfig
	logger *slog.Logger
	sink   Sink
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// writeMu serializes outbound frames; gorilla connections allow one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewSession creates a session for the configured upstream. No connection is
// opened until Connect.
func NewSession(cfg config.UpstreamConfig, logger *slog.Logger, sink Sink) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectMinDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectMinDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// Connect starts the session loop. A second call while the session is live
// returns immediately without opening a duplicate connection. Dial failures
// are not returned: the loop retries with bounded backoff and exposes the
// outcome through the connectivity flag.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.cfg.URL == "" {
		return errors.New("upstream url not configured")
	}
	if _, err := url.Parse(s.cfg.URL); err != nil {
		return fmt.Errorf("invalid upstream url %q: %w", s.cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

// Disconnect tears the session down and clears it so a later Connect starts
// fresh.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Connected reports whether a live connection is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// run dials, reads until failure, and retries with exponential backoff
// clamped between the configured delays. Exhausting the attempt budget
// leaves the session persistently disconnected without error: callers
// observe the flag.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.sink.SetConnected(false)

	delay := s.cfg.ReconnectMinDelay
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			attempts++
			metrics.ReconnectAttempt()
			if attempts >= s.cfg.MaxReconnectAttempts {
				s.logger.Error("upstream unreachable, giving up",
					slog.String("url", s.cfg.URL),
					slog.Int("attempts", attempts))
				return
			}
			s.logger.Warn("upstream dial failed, retrying",
				slog.Any("error", err),
				slog.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.cfg.ReconnectMaxDelay {
				delay = s.cfg.ReconnectMaxDelay
			}
			continue
		}

		attempts = 0
		delay = s.cfg.ReconnectMinDelay

		s.setConn(conn)
		s.sink.SetConnected(true)
		s.logger.Info("upstream connected", slog.String("url", s.cfg.URL))

		s.readLoop(ctx, conn)

		s.setConn(nil)
		s.sink.SetConnected(false)
		s.logger.Warn("upstream connection lost")
	}
}

// readLoop consumes frames until the connection fails or the context ends.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	loopDone := make(chan struct{})
	defer close(loopDone)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-loopDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				s.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// dispatch decodes one inbound frame and routes it to exactly one sink
// handler by event kind. Unknown kinds are ignored for forward
// compatibility; malformed payloads are dropped with a counter and never
// abort the read loop.
func (s *Session) dispatch(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.MalformedDropped("envelope", 1)
		s.logger.Debug("undecodable frame dropped", slog.Any("error", err))
		return
	}
	metrics.EventDispatched(env.Type)

	switch env.Type {
	case models.EventIncidentDetected:
		var p models.IncidentDetectedPayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.ApplyDetected(p)

	case models.EventStatusChange:
		var p models.StatusChangePayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.ApplyStatus(p)

	case models.EventAgentUpdate:
		var p models.AgentUpdatePayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.ApplyAgentUpdate(p)

	case models.EventTimelineAdd:
		var p models.TimelineAddPayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.UpsertTimeline(p.Entry, p.ProjectID)

	case models.EventLogsStream:
		var p models.LogsStreamPayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.MergeLogs(p.Logs, p.ProjectID)

	case models.EventSolutionProposed:
		var p models.SolutionProposedPayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.ApplySolution(p)

	case models.EventChatMessage:
		var p models.ChatMessagePayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.AppendChat(p.Message)

	case models.EventMetricsUpdate:
		var p models.MetricsUpdatePayload
		if !s.decode(env, &p) {
			return
		}
		s.sink.ApplyMetrics(p)

	default:
		s.logger.Debug("unknown event kind ignored", slog.String("type", env.Type))
	}
}

func (s *Session) decode(env models.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		metrics.MalformedDropped(env.Type, 1)
		s.logger.Debug("malformed payload dropped",
			slog.String("type", env.Type),
			slog.Any("error", err))
		return false
	}
	return true
}

// TriggerIncident asks the upstream pipeline to start an investigation.
func (s *Session) TriggerIncident() error {
	return s.send(models.Envelope{Type: models.IntentIncidentTrigger})
}

// ExecuteSolution asks the upstream pipeline to run the named solution.
func (s *Session) ExecuteSolution(solutionID string) error {
	payload, err := json.Marshal(models.SolutionExecutePayload{SolutionID: solutionID})
	if err != nil {
		return err
	}
	return s.send(models.Envelope{Type: models.IntentSolutionExecute, Payload: payload})
}

// SendChat forwards a user message to the agent.
func (s *Session) SendChat(msg models.ChatMessage) error {
	payload, err := json.Marshal(models.ChatMessagePayload{Message: msg})
	if err != nil {
		return err
	}
	return s.send(models.Envelope{Type: models.IntentChatMessage, Payload: payload})
}

// StopAgent asks the upstream pipeline to halt the current investigation.
func (s *Session) StopAgent() error {
	return s.send(models.Envelope{Type: models.IntentAgentStop})
}

// send writes one outbound envelope. Fire-and-forget: no acknowledgment is
// tracked at this layer.
func (s *Session) send(env models.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(env)
}
