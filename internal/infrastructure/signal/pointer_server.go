package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"castmix/internal/core/domain"
	"castmix/pkg/logger"
	"castmix/pkg/tracing"
	"castmix/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MessageTypePointer = "pointer"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
	MessageTypeInset   = "inset"
	MessageTypeError   = "error"
)

// PointerTarget receives translated pointer events. *services.Engine
// implements it.
type PointerTarget interface {
	HandlePointer(ev domain.PointerEvent) bool
	InsetRect() domain.Rect
	Layout() domain.LayoutMode
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins is matched against the Origin header. "*" allows any
	// origin; requests without an Origin header are always accepted.
	AllowedOrigins []string
	// Move events above this rate are coalesced away. Down, up and leave
	// are never dropped.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		AllowedOrigins:    []string{"*"},
		MessagesPerSecond: 120,
		Burst:             240,
		MaxMessageSize:    4 * 1024,
	}
}

type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type InsetPayload struct {
	Rect    domain.Rect       `json:"rect"`
	Layout  domain.LayoutMode `json:"layout"`
	Handled bool              `json:"handled"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type session struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	writeMu sync.Mutex
	// pressed is only touched by the connection's own loop.
	pressed bool
}

func (s *session) writeJSON(v interface{}, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(v)
}

func (s *session) writeControl(kind int, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(kind, nil, time.Now().Add(timeout))
}

// PointerServer relays pointer gestures from remote operators to the inset
// drag and pushes the resulting inset rectangle back to every connection.
type PointerServer struct {
	target   PointerTarget
	cfg      Config
	upgrader websocket.Upgrader

	sessions map[string]*session
	mu       sync.RWMutex

	dropped atomic.Uint64
	logger  *zap.SugaredLogger
}

func NewPointerServer(target PointerTarget, cfg Config, logger *zap.SugaredLogger) *PointerServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.MessagesPerSecond = float64(limit)

	s := &PointerServer{
		target:   target,
		cfg:      cfg,
		sessions: make(map[string]*session),
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *PointerServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

func (s *PointerServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" || len(sessionID) > 128 {
		sessionID = utils.GenerateSessionID()
	}
	sess := &session{
		id:      sessionID,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
	}

	// A reconnecting operator replaces its old connection.
	s.mu.Lock()
	existing, isReconnect := s.sessions[sessionID]
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	if isReconnect {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting session", "session_id", sessionID)
	}

	ctx := logger.WithSessionID(r.Context(), sessionID)
	s.logger.Infow("pointer session connected", "session_id", sessionID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	if err := sess.writeJSON(s.insetMessage(sessionID, false), s.cfg.WriteTimeout); err != nil {
		s.cleanup(sess)
		return
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go readMessages(conn, s.cfg.PongTimeout, messageChan, errorChan, done)

	for {
		select {
		case data := <-messageChan:
			if err := s.handleMessage(ctx, sess, data); err != nil {
				s.logger.Debugw("rejected pointer message", "session_id", sessionID, "error", err)
				s.sendError(sess, err.Error())
			}

		case <-pingTicker.C:
			if err := sess.writeControl(websocket.PingMessage, s.cfg.WriteTimeout); err != nil {
				s.logger.Infow("error sending ping", "session_id", sessionID, "error", err)
				s.cleanup(sess)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading pointer message", "session_id", sessionID, "error", err)
			}
			s.cleanup(sess)
			return
		}
	}
}

// messageReader is the read side of a websocket connection.
type messageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// readMessages pumps conn into messages until a read fails or done is
// closed. The first read error goes to errs, which must have room for it.
func readMessages(conn messageReader, pongTimeout time.Duration, messages chan<- []byte, errs chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		select {
		case messages <- data:
		case <-done:
			return
		}
	}
}

func (s *PointerServer) cleanup(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()

	// A drag must not outlive the connection that started it.
	if sess.pressed {
		sess.pressed = false
		if s.target.HandlePointer(domain.PointerEvent{Phase: domain.PointerLeave}) {
			s.BroadcastInset()
		}
	}
	s.logger.Infow("pointer session disconnected", "session_id", sess.id)
}

func (s *PointerServer) handleMessage(ctx context.Context, sess *session, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, sess.id)
	defer span.End()

	switch msg.Type {
	case MessageTypePointer:
		err := s.handlePointer(sess, msg.Payload)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		return err
	case MessageTypePing:
		return sess.writeJSON(Message{Type: MessageTypePong, SessionID: sess.id}, s.cfg.WriteTimeout)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *PointerServer) handlePointer(sess *session, payload json.RawMessage) error {
	var ev domain.PointerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("invalid pointer payload: %w", err)
	}
	switch ev.Phase {
	case domain.PointerDown, domain.PointerUp, domain.PointerLeave:
	case domain.PointerMove:
		if !sess.limiter.Allow() {
			s.dropped.Add(1)
			return nil
		}
	default:
		return fmt.Errorf("unknown pointer phase %q", ev.Phase)
	}

	handled := s.target.HandlePointer(ev)
	switch {
	case ev.Phase == domain.PointerDown:
		sess.pressed = handled
	case ev.Phase != domain.PointerMove:
		sess.pressed = false
	}

	if handled {
		s.BroadcastInset()
		return nil
	}
	if ev.Phase != domain.PointerMove {
		// The operator's client passes unclaimed presses through.
		return sess.writeJSON(s.insetMessage(sess.id, false), s.cfg.WriteTimeout)
	}
	return nil
}

func (s *PointerServer) insetMessage(sessionID string, handled bool) Message {
	payload, _ := json.Marshal(InsetPayload{
		Rect:    s.target.InsetRect(),
		Layout:  s.target.Layout(),
		Handled: handled,
	})
	return Message{Type: MessageTypeInset, SessionID: sessionID, Payload: payload}
}

func (s *PointerServer) sendError(sess *session, message string) {
	payload, _ := json.Marshal(ErrorPayload{Message: message})
	if err := sess.writeJSON(Message{Type: MessageTypeError, SessionID: sess.id, Payload: payload}, s.cfg.WriteTimeout); err != nil {
		s.logger.Debugw("failed to send error", "session_id", sess.id, "error", err)
	}
}

// BroadcastInset pushes the current inset rectangle and layout to every
// connected session.
func (s *PointerServer) BroadcastInset() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.writeJSON(s.insetMessage(sess.id, true), s.cfg.WriteTimeout); err != nil {
			s.logger.Debugw("failed to push inset", "session_id", sess.id, "error", err)
		}
	}
}

func (s *PointerServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// DroppedMoves counts move events coalesced away by the rate limiter.
func (s *PointerServer) DroppedMoves() uint64 {
	return s.dropped.Load()
}

// Close sends a close frame to every session. Hijacked connections are not
// closed by http.Server.Shutdown.
func (s *PointerServer) Close() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.writeMu.Lock()
		sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sess.writeMu.Unlock()
		sess.conn.Close()
	}
}
