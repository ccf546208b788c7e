package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mindcare-realtime/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageDeleted  = errors.New("message is deleted")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int64, senderID *int64, content string, kind models.MessageKind) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID int64, editorID int64, content string, at time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int64, deleterID int64, at time.Time) (models.Message, error)
	AddReaction(ctx context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error)
	RemoveReaction(ctx context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error)
	MarkRead(ctx context.Context, messageID int64, userID int64) (bool, error)
	EditHistory(ctx context.Context, messageID int64) ([]models.EditRecord, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, message_kind, created_at, edited, edited_at, edited_by, deleted, deleted_at, deleted_by`

// CreateMessage stores a message and bumps the conversation's last activity.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int64, senderID *int64, content string, kind models.MessageKind) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, content, message_kind)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns, conversationID, senderID, content, kind)
	if err != nil {
		return models.Message{}, err
	}
	if err := touchActivity(ctx, tx, conversationID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	msg.Reactions = models.Reactions{}
	msg.ReadBy = []int64{}
	return msg, nil
}

// GetMessage retrieves a single message with reactions and readers.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{msg}
	if err := r.loadDetails(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListMessages returns up to limit messages older than beforeID (0 means
// newest), in chronological order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 AND ($2 = 0 OR id < $2)
        ORDER BY id DESC
        LIMIT $3`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, beforeID, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := r.loadDetails(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateContent replaces the content and appends the previous version to the
// edit history. The row is locked for the duration of the transaction.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int64, editorID int64, content string, at time.Time) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	current, err := lockMessage(ctx, tx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if current.Deleted {
		return models.Message{}, ErrMessageDeleted
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO message_edits (message_id, previous_content, edited_at, edited_by) VALUES ($1, $2, $3, $4)`,
		messageID, current.Content, at, editorID); err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET content=$2, edited=TRUE, edited_at=$3, edited_by=$4 WHERE id=$1`,
		messageID, content, at, editorID); err != nil {
		return models.Message{}, err
	}
	if err := touchActivity(ctx, tx, current.ConversationID, at); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// SoftDelete flags the message as deleted. Deleting twice returns ErrMessageDeleted.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64, deleterID int64, at time.Time) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	current, err := lockMessage(ctx, tx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if current.Deleted {
		return models.Message{}, ErrMessageDeleted
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET deleted=TRUE, deleted_at=$2, deleted_by=$3 WHERE id=$1`,
		messageID, at, deleterID); err != nil {
		return models.Message{}, err
	}
	if err := touchActivity(ctx, tx, current.ConversationID, at); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// AddReaction records the user's reaction and returns the resulting map.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, kind, user_id)
        SELECT id, $2, $3 FROM messages WHERE id=$1 AND deleted = FALSE
        ON CONFLICT DO NOTHING`, messageID, kind, userID)
	if err != nil {
		return nil, err
	}
	return r.reactionsFor(ctx, messageID)
}

// RemoveReaction drops the user's reaction. A missing reaction is not an error.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error) {
	_, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND kind=$2 AND user_id=$3`, messageID, kind, userID)
	if err != nil {
		return nil, err
	}
	return r.reactionsFor(ctx, messageID)
}

// MarkRead adds the user to the message's readers. The bool is false when
// the user had already read it.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, messageID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// EditHistory returns previous versions, newest first.
func (r *MessageRepo) EditHistory(ctx context.Context, messageID int64) ([]models.EditRecord, error) {
	records := []models.EditRecord{}
	err := r.db.SelectContext(ctx, &records, `SELECT id, message_id, previous_content, edited_at, edited_by
        FROM message_edits WHERE message_id=$1 ORDER BY edited_at DESC, id DESC`, messageID)
	return records, err
}

func lockMessage(ctx context.Context, tx *sqlx.Tx, messageID int64) (models.Message, error) {
	var msg models.Message
	err := tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func (r *MessageRepo) reactionsFor(ctx context.Context, messageID int64) (models.Reactions, error) {
	byMessage, err := r.selectReactions(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	if reactions, ok := byMessage[messageID]; ok {
		return reactions, nil
	}
	return models.Reactions{}, nil
}

type reactionRow struct {
	MessageID int64               `db:"message_id"`
	Kind      models.ReactionKind `db:"kind"`
	UserID    int64               `db:"user_id"`
}

type readRow struct {
	MessageID int64 `db:"message_id"`
	UserID    int64 `db:"user_id"`
}

func (r *MessageRepo) selectReactions(ctx context.Context, ids []int64) (map[int64]models.Reactions, error) {
	query, args, err := sqlx.In(`SELECT message_id, kind, user_id FROM message_reactions
        WHERE message_id IN (?) ORDER BY message_id, kind, user_id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []reactionRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make(map[int64]models.Reactions)
	for _, row := range rows {
		if out[row.MessageID] == nil {
			out[row.MessageID] = models.Reactions{}
		}
		out[row.MessageID][row.Kind] = append(out[row.MessageID][row.Kind], row.UserID)
	}
	return out, nil
}

// loadDetails fills reactions and read-by sets in bulk.
func (r *MessageRepo) loadDetails(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i, msg := range msgs {
		ids = append(ids, msg.ID)
		index[msg.ID] = i
		msgs[i].Reactions = models.Reactions{}
		msgs[i].ReadBy = []int64{}
	}

	reactions, err := r.selectReactions(ctx, ids)
	if err != nil {
		return err
	}
	for id, set := range reactions {
		msgs[index[id]].Reactions = set
	}

	query, args, err := sqlx.In(`SELECT message_id, user_id FROM message_reads
        WHERE message_id IN (?) ORDER BY message_id, user_id`, ids)
	if err != nil {
		return err
	}
	var reads []readRow
	if err := r.db.SelectContext(ctx, &reads, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range reads {
		i := index[row.MessageID]
		msgs[i].ReadBy = append(msgs[i].ReadBy, row.UserID)
	}
	return nil
}
