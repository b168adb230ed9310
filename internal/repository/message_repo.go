package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/seabreeze-yc/clubinbox/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, created_at, read_at`

func scanMessage(row scanner, message *models.ChatMessage) error {
	return row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
		&message.ReadAt,
	)
}

func (r *MessageRepository) Create(ctx context.Context, message *models.ChatMessage) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns

	var created models.ChatMessage
	err := scanMessage(r.db.QueryRow(
		ctx,
		query,
		message.ID,
		message.ConversationID,
		message.SenderID,
		message.Content,
		message.CreatedAt,
	), &created)
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*models.ChatMessage, error) {
	var message models.ChatMessage
	err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID), &message)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByConversation returns one page counted from the newest message, in
// ascending created_at order.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID string,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		) page
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := scanMessage(rows, &message); err != nil {
			return nil, 0, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkRead sets read_at on a single message if it is still unread and was
// written by the other side. changed is false when nothing had to move.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	messageID uuid.UUID,
	memberID string,
	side Side,
) (*models.ChatMessage, bool, error) {
	var message models.ChatMessage
	err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET read_at = GREATEST(clock_timestamp(), created_at + INTERVAL '1 microsecond')
		WHERE id = $1
		  AND read_at IS NULL
		  AND (sender_id = $2) = $3
		RETURNING `+messageColumns,
		messageID, memberID, side.fromMember(),
	), &message)
	if err == nil {
		return &message, true, nil
	}
	if !isNoRows(err) {
		return nil, false, err
	}

	current, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkConversationRead reads every unread message of the other side in one
// statement and returns the ids it touched.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID string,
	memberID string,
	side Side,
) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE messages
		SET read_at = GREATEST(clock_timestamp(), created_at + INTERVAL '1 microsecond')
		WHERE conversation_id = $1
		  AND read_at IS NULL
		  AND (sender_id = $2) = $3
		RETURNING `+messageColumns,
		conversationID, memberID, side.fromMember(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := scanMessage(rows, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}
