package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/ws"
)

// Default notification types, created at startup.
var DefaultTypes = []models.NotificationType{
	{Name: "system_alert", Description: "Important system notifications", DefaultEnabled: true, IsGlobal: true},
	{Name: "appointment_reminder", Description: "Reminders about upcoming appointments", DefaultEnabled: true, IsGlobal: true},
	{Name: "new_message", Description: "Notifications about new messages", DefaultEnabled: true, IsGlobal: true},
	{Name: "message_reaction", Description: "Reactions to your messages", DefaultEnabled: true, IsGlobal: true},
	{Name: "therapy_update", Description: "Updates about therapy sessions", DefaultEnabled: true, IsGlobal: true},
	{Name: "security_alert", Description: "Security-related notifications", DefaultEnabled: true, IsGlobal: true},
}

// SendRequest describes one notification for one user.
type SendRequest struct {
	UserID    int64
	TypeName  string
	Title     string
	Message   string
	Priority  models.Priority
	Metadata  map[string]any
	Source    *models.SourceRef
	SendEmail bool
	SendInApp bool
}

type Broadcaster interface {
	Send(ctx context.Context, group string, event any) (int, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// Dispatcher resolves preferences, stores notifications and pushes them.
type Dispatcher struct {
	notifications repositories.NotificationRepository
	prefs         repositories.PreferenceRepository
	users         UserDirectory
	hub           Broadcaster
	mailer        *Mailer
	log           *zap.Logger
}

// NewDispatcher builds a Dispatcher. mailer may be nil to disable email.
func NewDispatcher(notifications repositories.NotificationRepository, prefs repositories.PreferenceRepository, users UserDirectory, hub Broadcaster, mailer *Mailer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		prefs:         prefs,
		users:         users,
		hub:           hub,
		mailer:        mailer,
		log:           log,
	}
}

// SeedDefaultTypes makes sure every default type exists.
func (d *Dispatcher) SeedDefaultTypes(ctx context.Context) error {
	for _, t := range DefaultTypes {
		if _, err := d.notifications.GetOrCreateType(ctx, t); err != nil {
			return fmt.Errorf("seed notification type %s: %w", t.Name, err)
		}
	}
	return nil
}

// Send stores and delivers a notification. It returns nil when the user's
// preferences suppress it or when storing fails; failures are logged, never
// returned.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) *models.Notification {
	log := d.log.With(zap.Int64("user_id", req.UserID), zap.String("type", req.TypeName))

	t, err := d.notifications.GetOrCreateType(ctx, models.NotificationType{
		Name:           req.TypeName,
		Description:    "Notification type for " + req.TypeName,
		DefaultEnabled: true,
		IsGlobal:       true,
	})
	if err != nil {
		log.Error("notification type lookup failed", zap.Error(err))
		observability.IncNotification(req.TypeName, "failed")
		return nil
	}

	prefs, err := d.prefs.GetPreferences(ctx, req.UserID)
	if err != nil {
		log.Error("notification preferences lookup failed", zap.Error(err))
		observability.IncNotification(req.TypeName, "failed")
		return nil
	}
	if !prefs.InApp || !prefs.IsTypeEnabled(t) {
		log.Debug("notification suppressed by preferences")
		observability.IncNotification(req.TypeName, "suppressed")
		return nil
	}

	priority := req.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	n, err := d.notifications.CreateNotification(ctx, models.Notification{
		UserID:   req.UserID,
		TypeID:   t.ID,
		TypeName: t.Name,
		Title:    req.Title,
		Message:  req.Message,
		Priority: priority,
		Metadata: req.Metadata,
		Source:   req.Source,
	})
	if err != nil {
		log.Error("notification persist failed", zap.Error(err))
		observability.IncNotification(req.TypeName, "failed")
		return nil
	}
	observability.IncNotification(req.TypeName, "created")

	if req.SendEmail && prefs.Email {
		d.sendEmail(ctx, n, log)
	}
	if req.SendInApp {
		d.pushInApp(ctx, n, log)
	}
	return &n
}

func (d *Dispatcher) pushInApp(ctx context.Context, n models.Notification, log *zap.Logger) {
	event := models.OutboundEvent{
		Type: models.OutboundNotification,
		Notification: &models.NotificationEvent{
			ID:        n.ID,
			Type:      n.TypeName,
			Title:     n.Title,
			Message:   n.Message,
			Priority:  n.Priority,
			Metadata:  n.Metadata,
			Timestamp: n.CreatedAt.UTC(),
		},
	}
	if _, err := d.hub.Send(ctx, ws.NotificationGroup(n.UserID), event); err != nil {
		observability.IncPublishError("broadcast")
		log.Warn("in-app notification push failed", zap.Int64("notification_id", n.ID), zap.Error(err))
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n models.Notification, log *zap.Logger) {
	if d.mailer == nil {
		return
	}
	user, err := d.users.GetUser(ctx, n.UserID)
	if err != nil || user.Email == "" {
		log.Debug("skipping email, no address", zap.Error(err))
		return
	}
	d.mailer.Enqueue(ctx, EmailMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		To:             user.Email,
		Subject:        n.Title,
		Body:           n.Message,
		Type:           n.TypeName,
		Priority:       string(n.Priority),
		Metadata:       n.Metadata,
	})
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// List returns the user's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	out, err := d.notifications.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperr.Persistence("list notifications", err)
	}
	return out, nil
}

// UnreadCount counts the user's unread notifications.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := d.notifications.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperr.Persistence("count notifications", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID int64, notificationID int64) error {
	err := d.notifications.MarkNotificationRead(ctx, userID, notificationID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return apperr.NotFound("notification not found")
	}
	if err != nil {
		return apperr.Persistence("mark notification read", err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	count, err := d.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperr.Persistence("mark all notifications read", err)
	}
	return count, nil
}
