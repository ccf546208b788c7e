package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool and applies the schema.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")
	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            display_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            is_staff BOOLEAN NOT NULL DEFAULT FALSE,
            is_premium BOOLEAN NOT NULL DEFAULT FALSE
        );`,
		`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('one_to_one', 'group', 'chatbot')),
            name TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            pinned_message_id BIGINT,
            owner_id BIGINT,
            pair_low BIGINT,
            pair_high BIGINT,
            archived BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (pair_low, pair_high)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_chatbot_owner
            ON conversations (owner_id) WHERE kind = 'chatbot';`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (conversation_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS conversation_participants_user
            ON conversation_participants (user_id);`,
		`CREATE TABLE IF NOT EXISTS group_moderators (
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            PRIMARY KEY (conversation_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id BIGINT,
            content TEXT NOT NULL,
            message_kind TEXT NOT NULL DEFAULT 'text',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            edited_at TIMESTAMPTZ,
            edited_by BIGINT,
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_at TIMESTAMPTZ,
            deleted_by BIGINT
        );`,
		`CREATE INDEX IF NOT EXISTS messages_conversation
            ON messages (conversation_id, id DESC);`,
		`CREATE TABLE IF NOT EXISTS message_edits (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            previous_content TEXT NOT NULL,
            edited_at TIMESTAMPTZ NOT NULL,
            edited_by BIGINT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            kind TEXT NOT NULL CHECK (kind IN ('like', 'heart', 'smile', 'thumbsup')),
            user_id BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, kind, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS message_reads (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS notification_types (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT '',
            default_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            is_global BOOLEAN NOT NULL DEFAULT TRUE
        );`,
		`CREATE TABLE IF NOT EXISTS notification_preferences (
            user_id BIGINT PRIMARY KEY,
            in_app BOOLEAN NOT NULL DEFAULT TRUE,
            email BOOLEAN NOT NULL DEFAULT TRUE
        );`,
		`CREATE TABLE IF NOT EXISTS notification_type_optouts (
            user_id BIGINT NOT NULL,
            type_id BIGINT NOT NULL REFERENCES notification_types(id) ON DELETE CASCADE,
            PRIMARY KEY (user_id, type_id)
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL,
            type_id BIGINT NOT NULL REFERENCES notification_types(id),
            title TEXT NOT NULL,
            message TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            priority TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
            source_kind TEXT,
            source_id BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS notifications_user
            ON notifications (user_id, created_at DESC);`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
