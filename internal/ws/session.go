package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mindcare-realtime/internal/config"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/ratelimit"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes sent to clients.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseInternalError   = 4000
	CloseNoCredential    = 4001
	CloseUnauthenticated = 4003
	CloseNotParticipant  = 4004
)

// Session is one websocket connection. The write pump is the only writer to
// conn; everything else queues frames through send.
type Session struct {
	id    string
	kind  string
	conn  *websocket.Conn
	cfg   config.WSConfig
	info  ConnInfo
	user  models.User
	group string

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string

	state atomic.Int32

	handler *Handler
	log     *zap.Logger
}

func newSession(h *Handler, conn *websocket.Conn, kind string, info ConnInfo) *Session {
	s := &Session{
		id:         info.ConnID,
		kind:       kind,
		conn:       conn,
		cfg:        h.cfg,
		info:       info,
		send:       make(chan []byte, h.cfg.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		handler:    h,
		log:        h.log.With(zap.String("conn_id", info.ConnID), zap.String("kind", kind)),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string { return s.id }

// UserID implements Target.
func (s *Session) UserID() int64 { return s.user.ID }

// Close implements Target. Frames queued before the call are still written.
func (s *Session) Close(code int, reason string) { s.close(code, reason) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Deliver implements Target. A session that cannot keep up is closed: it has
// missed an event and the client must resync from history.
func (s *Session) Deliver(payload []byte, timeout time.Duration) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.send <- payload:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		s.log.Warn("send buffer full, closing slow session")
		s.close(websocket.CloseTryAgainLater, "slow consumer")
		return false
	}
}

func (s *Session) close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

// reject sends a close frame on a connection that never joined.
func (s *Session) reject(code int, text string) {
	s.setState(StateRejected)
	observability.IncWSEvent(s.kind, "ws_reject")
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(s.cfg.WriteDeadline))
	_ = s.conn.Close()
	s.setState(StateClosed)
}

func (s *Session) queue(event models.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("marshal outbound event", zap.Error(err))
		return
	}
	s.Deliver(payload, s.cfg.SendTimeout)
}

// run drives a joined session until either side closes it. Teardown always
// removes the session from every group.
func (s *Session) run(ctx context.Context, onInbound func(context.Context, []byte)) {
	go s.writePump()
	defer s.teardown(ctx)
	s.readPump(ctx, onInbound)
}

func (s *Session) readPump(ctx context.Context, onInbound func(context.Context, []byte)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panic", zap.Any("panic", r), zap.Int64("user_id", s.user.ID))
			observability.IncWSEvent(s.kind, "ws_panic")
			s.close(CloseInternalError, "internal error")
		}
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("websocket read ended", zap.Error(err))
				observability.IncWSEvent(s.kind, "ws_error")
				_ = observability.PublishEvent(ctx, s.routingKey(), observability.NewEnvelope("ws_events", "ws_error",
					s.info.payload(s.kind, "ws_error", err.Error())), s.headers())
			}
			s.close(CloseNormal, "")
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		onInbound(ctx, data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				s.close(CloseNormal, "")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteDeadline)); err != nil {
				s.close(CloseNormal, "")
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeText),
				time.Now().Add(s.cfg.WriteDeadline))
			return
		}
	}
}

// flush writes frames already queued before the close frame goes out.
func (s *Session) flush() {
	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) teardown(ctx context.Context) {
	s.handler.hub.LeaveAll(s)
	s.close(CloseNormal, "")
	<-s.writerDone
	s.setState(StateClosed)

	observability.DecWSActive(s.kind)
	observability.IncWSEvent(s.kind, "ws_disconnect")
	_ = observability.PublishEvent(context.WithoutCancel(ctx), s.routingKey(), observability.NewEnvelope("ws_events", "ws_disconnect",
		s.info.payload(s.kind, "ws_disconnect", s.closeText)), s.headers())
	s.log.Info("websocket session closed", zap.Int64("user_id", s.user.ID), zap.Int("code", s.closeCode))
}

func (s *Session) routingKey() string {
	return fmt.Sprintf("ws_events.%s", s.kind)
}

func (s *Session) headers() map[string]string {
	return observability.BuildHeaders(s.info.RequestID, s.info.TraceID)
}

// handleConversationFrame dispatches one inbound frame of a conversation
// session. Bad frames are logged and dropped.
func (s *Session) handleConversationFrame(ctx context.Context, data []byte) {
	var event models.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Info("dropping malformed frame", zap.Error(err))
		observability.IncWSEvent(s.kind, "ws_malformed")
		return
	}
	if err := s.handler.validate.Struct(event); err != nil {
		s.log.Info("dropping invalid frame", zap.Error(err))
		observability.IncWSEvent(s.kind, "ws_malformed")
		return
	}

	switch event.Type {
	case models.InboundMarkRead:
		if event.MessageID == 0 {
			s.log.Info("dropping mark_read without message_id")
			return
		}
		observability.IncWSEvent(s.kind, "mark_read")
		if err := s.handler.reads.MarkRead(ctx, s.user, event.MessageID); err != nil {
			s.log.Info("mark_read rejected", zap.Int64("message_id", event.MessageID), zap.Error(err))
		}
	case models.InboundTyping:
		if err := s.handler.limiter.Allow(ctx, s.user, ratelimit.ScopeTyping); err != nil {
			return
		}
		isTyping := event.IsTyping == nil || *event.IsTyping
		observability.IncWSEvent(s.kind, "typing")
		if _, err := s.handler.hub.Send(ctx, s.group, models.OutboundEvent{
			Type:           models.OutboundTyping,
			ConversationID: s.info.ConversationID,
			UserID:         s.user.ID,
			Username:       s.user.Name(),
			IsTyping:       &isTyping,
		}); err != nil {
			s.log.Warn("typing broadcast failed", zap.Error(err))
		}
	default:
		s.log.Debug("ignoring unknown frame type", zap.String("type", event.Type))
	}
}

// handleNotificationFrame ignores input on the notification stream.
func (s *Session) handleNotificationFrame(_ context.Context, data []byte) {
	s.log.Debug("ignoring frame on notification stream", zap.Int("bytes", len(data)))
}
