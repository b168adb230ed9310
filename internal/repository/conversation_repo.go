package repository

import (
	"context"
	"time"

	"github.com/seabreeze-yc/clubinbox/internal/models"
)

// Side picks whose unread messages are counted. Members count messages sent
// by the club; the staff pool counts messages sent by the member.
type Side int

const (
	MemberSide Side = iota
	StaffSide
)

func (s Side) fromMember() bool {
	return s == StaffSide
}

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id, c.member_id, c.staff_id, c.last_message, c.last_message_sender_id,
	c.last_activity_at, c.status, c.created_at, c.updated_at`

func scanConversation(row scanner, conversation *models.Conversation, extra ...any) error {
	dest := []any{
		&conversation.ID,
		&conversation.MemberID,
		&conversation.StaffID,
		&conversation.LastMessage,
		&conversation.LastMessageSenderID,
		&conversation.LastActivityAt,
		&conversation.Status,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	conversationID string,
	memberID string,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations AS c (id, member_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (id)
		DO UPDATE SET id = c.id
		RETURNING ` + conversationColumns

	var conversation models.Conversation
	if err := scanConversation(r.db.QueryRow(ctx, query, conversationID, memberID), &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`

	var conversation models.Conversation
	if err := scanConversation(r.db.QueryRow(ctx, query, conversationID), &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetForUpdate locks the conversation row for the rest of the transaction so
// appends to one thread are serialized.
func (r *ConversationRepository) GetForUpdate(ctx context.Context, conversationID string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1 FOR UPDATE`

	var conversation models.Conversation
	if err := scanConversation(r.db.QueryRow(ctx, query, conversationID), &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

const summarySelect = `
	SELECT ` + conversationColumns + `, COALESCE(uc.unread_count, 0)
	FROM conversations c
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS unread_count
		FROM messages m
		WHERE m.conversation_id = c.id
		  AND m.read_at IS NULL
		  AND (m.sender_id = c.member_id) = $1
	) uc ON TRUE`

// ListSummaries returns every conversation when conversationID is empty, or
// just that one otherwise.
func (r *ConversationRepository) ListSummaries(
	ctx context.Context,
	side Side,
	conversationID string,
) ([]models.ConversationSummary, error) {
	query := summarySelect + `
		WHERE ($2 = '' OR c.id = $2)
		ORDER BY c.last_activity_at DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, side.fromMember(), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		if err := scanConversation(rows, &summary.Conversation, &summary.UnreadCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) GetSummary(
	ctx context.Context,
	conversationID string,
	side Side,
) (*models.ConversationSummary, error) {
	query := summarySelect + ` WHERE c.id = $2`

	var summary models.ConversationSummary
	if err := scanConversation(
		r.db.QueryRow(ctx, query, side.fromMember(), conversationID),
		&summary.Conversation,
		&summary.UnreadCount,
	); err != nil {
		return nil, err
	}
	return &summary, nil
}

// RecordMessage denormalizes the newest message onto the conversation.
func (r *ConversationRepository) RecordMessage(
	ctx context.Context,
	conversationID string,
	message *models.ChatMessage,
	status string,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message = $2,
		    last_message_sender_id = $3,
		    last_activity_at = GREATEST(last_activity_at, $4),
		    status = $5,
		    updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond', $4)
		WHERE id = $1
	`, conversationID, message.Content, message.SenderID, message.CreatedAt, status)
	return err
}

// Touch bumps updated_at strictly forward so clients see a newer version of
// the summary after read-state changes.
func (r *ConversationRepository) Touch(ctx context.Context, conversationID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1
	`, conversationID)
	return err
}

func (r *ConversationRepository) SetStatus(
	ctx context.Context,
	conversationID string,
	status string,
) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET status = $2,
		    updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND status <> $2
	`, conversationID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) ResolveIdle(ctx context.Context, idleBefore time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE conversations
		SET status = 'resolved',
		    updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		WHERE status = 'active' AND last_activity_at < $1
		RETURNING id
	`, idleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
