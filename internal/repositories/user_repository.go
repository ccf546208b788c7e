package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"mindcare-realtime/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the read-only user directory.
type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// PreferenceRepository reads notification preferences maintained elsewhere.
type PreferenceRepository interface {
	GetPreferences(ctx context.Context, userID int64) (models.NotificationPreferences, error)
}

// UserRepo reads users and their notification preferences.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, display_name, email, is_staff, is_premium FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetPreferences returns the user's preferences, or the defaults when none are stored.
func (r *UserRepo) GetPreferences(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	prefs := models.DefaultPreferences(userID)
	var row struct {
		InApp bool `db:"in_app"`
		Email bool `db:"email"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT in_app, email FROM notification_preferences WHERE user_id=$1`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.NotificationPreferences{}, err
	default:
		prefs.InApp = row.InApp
		prefs.Email = row.Email
	}

	var disabled []int64
	if err := r.db.SelectContext(ctx, &disabled, `SELECT type_id FROM notification_type_optouts WHERE user_id=$1`, userID); err != nil {
		return models.NotificationPreferences{}, err
	}
	for _, typeID := range disabled {
		prefs.DisabledTypes[typeID] = true
	}
	return prefs, nil
}
