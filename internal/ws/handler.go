package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mindcare-realtime/internal/auth"
	"mindcare-realtime/internal/config"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/ratelimit"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/telemetry"
)

const (
	kindConversation  = "conversation"
	kindNotifications = "notifications"
)

type Authenticator interface {
	Authenticate(token string) auth.Identity
}

type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64, conversationID int64) bool
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// ReadMarker persists a read and broadcasts the receipt.
type ReadMarker interface {
	MarkRead(ctx context.Context, user models.User, messageID int64) error
}

type RateLimiter interface {
	Allow(ctx context.Context, user models.User, scope ratelimit.Scope) error
}

type Auditor interface {
	Emit(ctx context.Context, rec telemetry.Record)
}

// HandlerDeps wires a Handler.
type HandlerDeps struct {
	Hub     *Hub
	Auth    Authenticator
	Members MembershipChecker
	Users   UserDirectory
	Reads   ReadMarker
	Limiter RateLimiter
	Audit   Auditor
	Config  config.WSConfig
	Log     *zap.Logger
}

// Handler upgrades websocket requests and runs their sessions.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	members  MembershipChecker
	users    UserDirectory
	reads    ReadMarker
	limiter  RateLimiter
	audit    Auditor
	cfg      config.WSConfig
	log      *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		hub:      deps.Hub,
		auth:     deps.Auth,
		members:  deps.Members,
		users:    deps.Users,
		reads:    deps.Reads,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		cfg:      deps.Config,
		log:      deps.Log,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeConversation handles GET /ws/conversations/:conversation_id. The
// request is always upgraded; rejections are close frames with 4xxx codes.
func (h *Handler) ServeConversation(c *gin.Context) {
	ctx, span := otel.Tracer("mindcare-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	s := newSession(h, conn, kindConversation, h.connInfo(c))

	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		span.End()
		s.reject(CloseInternalError, "invalid conversation id")
		return
	}
	s.info.ConversationID = conversationID
	span.SetAttributes(attribute.Int64("conversation.id", conversationID))

	user, code, reason := h.authenticate(ctx, c.Request)
	if code == 0 && !h.members.IsMember(ctx, user.ID, conversationID) {
		code, reason = CloseNotParticipant, "not a participant"
	}
	if code != 0 {
		span.SetAttributes(attribute.Int("ws.close_code", code))
		span.End()
		h.rejectAudit(ctx, s, user.ID, reason)
		s.reject(code, reason)
		return
	}
	s.user = user
	s.info.UserID = user.ID
	s.setState(StateAuthenticated)

	s.group = ConversationGroup(conversationID)
	s.queue(models.OutboundEvent{
		Type:           models.OutboundConnectionEstablished,
		ConversationID: conversationID,
		UserID:         user.ID,
		Detail:         "joined " + s.group,
	})
	h.join(ctx, s)
	// A removal between the handshake check and the join evicted nothing.
	if !h.members.IsMember(ctx, user.ID, conversationID) {
		h.hub.Leave(s.group, s)
		s.close(CloseNotParticipant, "not a participant")
	}
	span.End()

	s.run(ctx, s.handleConversationFrame)
}

// ServeNotifications handles GET /ws/notifications and streams the caller's
// notifications.
func (h *Handler) ServeNotifications(c *gin.Context) {
	ctx, span := otel.Tracer("mindcare-realtime/ws").Start(c.Request.Context(), "ws.handshake.notifications")
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	s := newSession(h, conn, kindNotifications, h.connInfo(c))

	user, code, reason := h.authenticate(ctx, c.Request)
	if code != 0 {
		span.End()
		h.rejectAudit(ctx, s, 0, reason)
		s.reject(code, reason)
		return
	}
	s.user = user
	s.info.UserID = user.ID
	s.setState(StateAuthenticated)

	s.group = NotificationGroup(user.ID)
	s.queue(models.OutboundEvent{
		Type:   models.OutboundConnectionEstablished,
		UserID: user.ID,
		Detail: "joined " + s.group,
	})
	h.join(ctx, s)
	span.End()

	s.run(ctx, s.handleNotificationFrame)
}

// authenticate returns the caller or a close code with its reason.
func (h *Handler) authenticate(ctx context.Context, r *http.Request) (models.User, int, string) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return models.User{}, CloseNoCredential, "no credential"
	}
	identity := h.auth.Authenticate(token)
	if identity.Anonymous {
		return models.User{}, CloseUnauthenticated, "not authenticated"
	}

	user, err := h.users.GetUser(ctx, identity.UserID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{ID: identity.UserID}, 0, ""
	}
	if err != nil {
		h.log.Warn("user lookup failed", zap.Int64("user_id", identity.UserID), zap.Error(err))
		return models.User{ID: identity.UserID}, 0, ""
	}
	return user, 0, ""
}

func (h *Handler) join(ctx context.Context, s *Session) {
	h.hub.Join(s.group, s)
	s.setState(StateJoined)

	observability.IncWSActive(s.kind)
	observability.IncWSEvent(s.kind, "ws_connect")
	_ = observability.PublishEvent(ctx, s.routingKey(), observability.NewEnvelope("ws_events", "ws_connect",
		s.info.payload(s.kind, "ws_connect", "")), s.headers())
	s.log.Info("websocket session joined", zap.Int64("user_id", s.user.ID), zap.String("group", s.group))
}

func (h *Handler) rejectAudit(ctx context.Context, s *Session, userID int64, reason string) {
	s.log.Info("websocket rejected", zap.String("reason", reason), zap.Int64("conversation_id", s.info.ConversationID))
	if h.audit != nil {
		h.audit.Emit(ctx, telemetry.Record{
			Level:          telemetry.LevelWarning,
			Action:         "ws_rejected",
			Text:           reason,
			RequestID:      s.info.RequestID,
			UserID:         userID,
			ConversationID: s.info.ConversationID,
		})
	}
}

func (h *Handler) connInfo(c *gin.Context) ConnInfo {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = observability.RequestIDFromRequest(c.Request)
	}
	return ConnInfo{
		ConnID:      uuid.NewString(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     observability.TraceIDFromContext(c.Request.Context()),
		ConnectedAt: time.Now(),
	}
}
