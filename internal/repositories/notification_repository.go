package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"mindcare-realtime/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository persists notification types and user notifications.
type NotificationRepository interface {
	GetOrCreateType(ctx context.Context, t models.NotificationType) (models.NotificationType, error)
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkNotificationRead(ctx context.Context, userID int64, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int, error)
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// GetOrCreateType returns the type named t.Name, inserting t when missing.
// An existing row keeps its stored settings.
func (r *NotificationRepo) GetOrCreateType(ctx context.Context, t models.NotificationType) (models.NotificationType, error) {
	var out models.NotificationType
	err := r.db.GetContext(ctx, &out, `INSERT INTO notification_types (name, description, default_enabled, is_global)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id, name, description, default_enabled, is_global`,
		t.Name, t.Description, t.DefaultEnabled, t.IsGlobal)
	return out, err
}

type notificationRow struct {
	models.Notification
	RawMetadata []byte         `db:"metadata"`
	SourceKind  sql.NullString `db:"source_kind"`
	SourceID    sql.NullInt64  `db:"source_id"`
}

func (row notificationRow) toModel() (models.Notification, error) {
	n := row.Notification
	n.Metadata = map[string]any{}
	if len(row.RawMetadata) > 0 {
		if err := json.Unmarshal(row.RawMetadata, &n.Metadata); err != nil {
			return models.Notification{}, err
		}
	}
	if row.SourceKind.Valid && row.SourceID.Valid {
		n.Source = &models.SourceRef{Kind: models.SourceKind(row.SourceKind.String), ID: row.SourceID.Int64}
	}
	return n, nil
}

const notificationSelect = `SELECT n.id, n.user_id, n.type_id, t.name AS type_name, n.title, n.message, n.is_read,
        n.priority, n.metadata, n.source_kind, n.source_id, n.created_at
    FROM notifications n
    INNER JOIN notification_types t ON t.id = n.type_id`

// CreateNotification stores n and returns it with id and timestamp set.
func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return models.Notification{}, err
	}
	var sourceKind sql.NullString
	var sourceID sql.NullInt64
	if n.Source != nil {
		sourceKind = sql.NullString{String: string(n.Source.Kind), Valid: true}
		sourceID = sql.NullInt64{Int64: n.Source.ID, Valid: true}
	}

	var id int64
	err = r.db.GetContext(ctx, &id, `INSERT INTO notifications (user_id, type_id, title, message, priority, metadata, source_kind, source_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		n.UserID, n.TypeID, n.Title, n.Message, n.Priority, raw, sourceKind, sourceID)
	if err != nil {
		return models.Notification{}, err
	}
	return r.getNotification(ctx, id)
}

func (r *NotificationRepo) getNotification(ctx context.Context, id int64) (models.Notification, error) {
	var row notificationRow
	err := r.db.GetContext(ctx, &row, notificationSelect+` WHERE n.id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	if err != nil {
		return models.Notification{}, err
	}
	return row.toModel()
}

// ListNotifications returns the user's notifications, newest first.
func (r *NotificationRepo) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := notificationSelect + ` WHERE n.user_id=$1 AND ($2 = FALSE OR n.is_read = FALSE)
        ORDER BY n.created_at DESC, n.id DESC LIMIT $3`
	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, unreadOnly, limit); err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount counts the user's unread notifications.
func (r *NotificationRepo) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND is_read = FALSE`, userID)
	return count, err
}

// MarkNotificationRead flips the read flag of one of the user's notifications.
func (r *NotificationRepo) MarkNotificationRead(ctx context.Context, userID int64, notificationID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id=$1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}
