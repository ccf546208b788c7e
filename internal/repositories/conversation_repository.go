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
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateOneToOne(ctx context.Context, userID int64, otherID int64) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, participantIDs []int64) (models.Conversation, error)
	GetOrCreateChatbot(ctx context.Context, userID int64) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error)
	CountGroupsForUser(ctx context.Context, userID int64) (int, error)
	AddParticipant(ctx context.Context, conversationID int64, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID int64, userID int64) error
	SetPinnedMessage(ctx context.Context, conversationID int64, messageID int64) error
	IsOneToOneParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	IsGroupParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	IsChatbotOwner(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, kind, name, description, is_private, pinned_message_id, owner_id, archived, created_at, last_activity`

// GetOrCreateOneToOne returns the single conversation between two users,
// creating it when missing. The bool reports whether it was created.
func (r *ConversationRepo) GetOrCreateOneToOne(ctx context.Context, userID int64, otherID int64) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	low, high := models.OrderedPair(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	created := true
	var id int64
	err = tx.GetContext(ctx, &id, `INSERT INTO conversations (kind, pair_low, pair_high) VALUES ('one_to_one', $1, $2)
        ON CONFLICT (pair_low, pair_high) DO NOTHING RETURNING id`, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE pair_low=$1 AND pair_high=$2`, low, high)
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	for _, participant := range []int64{low, high} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, id, participant); err != nil {
			return models.Conversation{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}

	conv, err := r.GetConversation(ctx, id)
	return conv, created, err
}

// CreateGroup creates a group and its members atomically. The owner becomes
// participant and moderator.
func (r *ConversationRepo) CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, participantIDs []int64) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.GetContext(ctx, &id, `INSERT INTO conversations (kind, name, description, is_private) VALUES ('group', $1, $2, $3) RETURNING id`,
		name, description, isPrivate); err != nil {
		return models.Conversation{}, err
	}

	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, id, userID); err != nil {
			return models.Conversation{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO group_moderators (conversation_id, user_id) VALUES ($1, $2)`, id, ownerID); err != nil {
		return models.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, id)
}

// GetOrCreateChatbot returns the user's chatbot conversation, creating it when missing.
func (r *ConversationRepo) GetOrCreateChatbot(ctx context.Context, userID int64) (models.Conversation, bool, error) {
	created := true
	var id int64
	err := r.db.GetContext(ctx, &id, `INSERT INTO conversations (kind, owner_id) VALUES ('chatbot', $1)
        ON CONFLICT (owner_id) WHERE kind = 'chatbot' DO NOTHING RETURNING id`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = r.db.GetContext(ctx, &id, `SELECT id FROM conversations WHERE kind='chatbot' AND owner_id=$1`, userID)
	}
	if err != nil {
		return models.Conversation{}, false, err
	}
	conv, err := r.GetConversation(ctx, id)
	return conv, created, err
}

// GetConversation fetches a conversation with its participants and moderators.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	convs := []models.Conversation{conv}
	if err := r.loadMembers(ctx, convs); err != nil {
		return models.Conversation{}, err
	}
	return convs[0], nil
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c
        WHERE c.archived = FALSE AND (
            EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $1)
            OR (c.kind = 'chatbot' AND c.owner_id = $1))
        ORDER BY c.last_activity DESC`
	var convs []models.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, userID); err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CountGroupsForUser counts the group conversations the user belongs to.
func (r *ConversationRepo) CountGroupsForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM conversations c
        INNER JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE c.kind = 'group' AND cp.user_id = $1`, userID)
	return count, err
}

// AddParticipant adds a user to a group conversation.
func (r *ConversationRepo) AddParticipant(ctx context.Context, conversationID int64, userID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, conversationID, userID)
	return err
}

// RemoveParticipant removes a user (and any moderator role) from a group.
func (r *ConversationRepo) RemoveParticipant(ctx context.Context, conversationID int64, userID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_moderators WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetPinnedMessage pins a message in a group conversation.
func (r *ConversationRepo) SetPinnedMessage(ctx context.Context, conversationID int64, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET pinned_message_id=$2 WHERE id=$1 AND kind='group'`, conversationID, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// IsOneToOneParticipant checks membership of a one-to-one conversation.
func (r *ConversationRepo) IsOneToOneParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	return r.isParticipant(ctx, models.KindOneToOne, conversationID, userID)
}

// IsGroupParticipant checks membership of a group conversation.
func (r *ConversationRepo) IsGroupParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	return r.isParticipant(ctx, models.KindGroup, conversationID, userID)
}

// IsChatbotOwner checks whether the user owns the chatbot conversation.
func (r *ConversationRepo) IsChatbotOwner(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND kind='chatbot' AND owner_id=$2)`,
		conversationID, userID)
	return exists, err
}

func (r *ConversationRepo) isParticipant(ctx context.Context, kind models.ConversationKind, conversationID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations c
        INNER JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE c.id=$1 AND c.kind=$2 AND cp.user_id=$3)`, conversationID, kind, userID)
	return exists, err
}

type memberRow struct {
	ConversationID int64 `db:"conversation_id"`
	UserID         int64 `db:"user_id"`
}

// loadMembers fills participants and moderators for all conversations in two queries each.
func (r *ConversationRepo) loadMembers(ctx context.Context, convs []models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(convs))
	index := make(map[int64]int, len(convs))
	for i, conv := range convs {
		ids = append(ids, conv.ID)
		index[conv.ID] = i
		convs[i].Participants = []int64{}
		if conv.Kind == models.KindChatbot && conv.OwnerID != nil {
			convs[i].Participants = []int64{*conv.OwnerID}
		}
	}

	participants, err := r.selectMembers(ctx, `SELECT conversation_id, user_id FROM conversation_participants
        WHERE conversation_id IN (?) ORDER BY conversation_id, user_id`, ids)
	if err != nil {
		return err
	}
	for _, row := range participants {
		i := index[row.ConversationID]
		convs[i].Participants = append(convs[i].Participants, row.UserID)
	}

	moderators, err := r.selectMembers(ctx, `SELECT conversation_id, user_id FROM group_moderators
        WHERE conversation_id IN (?) ORDER BY conversation_id, user_id`, ids)
	if err != nil {
		return err
	}
	for _, row := range moderators {
		i := index[row.ConversationID]
		convs[i].Moderators = append(convs[i].Moderators, row.UserID)
	}
	return nil
}

func (r *ConversationRepo) selectMembers(ctx context.Context, query string, ids []int64) ([]memberRow, error) {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return nil, err
	}
	var rows []memberRow
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...)
	return rows, err
}

func touchActivity(ctx context.Context, tx *sqlx.Tx, conversationID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE conversations SET last_activity = GREATEST(last_activity, $2) WHERE id=$1`, conversationID, at)
	return err
}
