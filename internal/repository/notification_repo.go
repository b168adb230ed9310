package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/models"
)

// NotificationOwner is either one user or the shared staff/admin pool.
type NotificationOwner struct {
	Pool   bool
	UserID string
}

func PoolOwner() NotificationOwner {
	return NotificationOwner{Pool: true}
}

func UserOwner(userID string) NotificationOwner {
	return NotificationOwner{UserID: userID}
}

// clause renders the ownership predicate using placeholder $n.
func (o NotificationOwner) clause(n int) (string, []any) {
	if o.Pool {
		return "recipient_scope IN ('staff', 'admin')", nil
	}
	return fmt.Sprintf("recipient_scope = 'user' AND recipient_id = $%d", n), []any{o.UserID}
}

type NotificationListFilter struct {
	Owner      NotificationOwner
	UnreadOnly bool
}

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `
	id, recipient_scope, recipient_id, type, priority, title, message,
	action_required, metadata, read, read_at, created_at`

func scanNotification(row scanner, notification *models.Notification) error {
	var metadata []byte
	if err := row.Scan(
		&notification.ID,
		&notification.RecipientScope,
		&notification.RecipientID,
		&notification.Type,
		&notification.Priority,
		&notification.Title,
		&notification.Message,
		&notification.ActionRequired,
		&metadata,
		&notification.Read,
		&notification.ReadAt,
		&notification.CreatedAt,
	); err != nil {
		return err
	}
	if len(metadata) > 0 {
		notification.Metadata = json.RawMessage(metadata)
	}
	return nil
}

func collectNotifications(rows pgx.Rows) ([]models.Notification, error) {
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var notification models.Notification
		if err := scanNotification(rows, &notification); err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

// Create inserts a notification. When SourceEventID is set and a row for the
// same event and recipient already exists, created is false.
func (r *NotificationRepository) Create(
	ctx context.Context,
	input models.CreateNotificationInput,
) (*models.Notification, bool, error) {
	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, recipient_scope, recipient_id, type, priority, title, message,
			action_required, metadata, source_event_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_event_id, recipient_scope, COALESCE(recipient_id, ''))
			WHERE source_event_id IS NOT NULL
		DO NOTHING
		RETURNING ` + notificationColumns

	var notification models.Notification
	err = scanNotification(r.db.QueryRow(
		ctx,
		query,
		uuid.New(),
		input.RecipientScope,
		input.RecipientID,
		input.Type,
		input.Priority,
		input.Title,
		input.Message,
		input.ActionRequired,
		encoded,
		input.SourceEventID,
	), &notification)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &notification, true, nil
}

func (r *NotificationRepository) List(
	ctx context.Context,
	filter NotificationListFilter,
) ([]models.Notification, error) {
	where, args := filter.Owner.clause(1)
	if filter.UnreadOnly {
		where += " AND read = FALSE"
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *NotificationRepository) CountUnread(ctx context.Context, owner NotificationOwner) (int, error) {
	where, args := owner.clause(1)

	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE `+where+` AND read = FALSE
	`, args...).Scan(&count)
	return count, err
}

func (r *NotificationRepository) GetByID(
	ctx context.Context,
	notificationID uuid.UUID,
	owner NotificationOwner,
) (*models.Notification, error) {
	where, args := owner.clause(2)

	var notification models.Notification
	err := scanNotification(r.db.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1 AND `+where,
		append([]any{notificationID}, args...)...,
	), &notification)
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

// MarkRead flips read once. A second call returns the stored row and
// changed=false.
func (r *NotificationRepository) MarkRead(
	ctx context.Context,
	notificationID uuid.UUID,
	owner NotificationOwner,
) (*models.Notification, bool, error) {
	where, args := owner.clause(2)

	var notification models.Notification
	err := scanNotification(r.db.QueryRow(ctx, `
		UPDATE notifications
		SET read = TRUE,
		    read_at = GREATEST(clock_timestamp(), created_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND read = FALSE AND `+where+`
		RETURNING `+notificationColumns,
		append([]any{notificationID}, args...)...,
	), &notification)
	if err == nil {
		return &notification, true, nil
	}
	if !isNoRows(err) {
		return nil, false, err
	}

	current, err := r.GetByID(ctx, notificationID, owner)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkAllRead is a single statement, so either every unread row in scope
// flips or none does.
func (r *NotificationRepository) MarkAllRead(
	ctx context.Context,
	owner NotificationOwner,
) ([]models.Notification, error) {
	where, args := owner.clause(1)

	rows, err := r.db.Query(ctx, `
		UPDATE notifications
		SET read = TRUE,
		    read_at = GREATEST(clock_timestamp(), created_at + INTERVAL '1 microsecond')
		WHERE read = FALSE AND `+where+`
		RETURNING `+notificationColumns,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *NotificationRepository) Delete(
	ctx context.Context,
	notificationID uuid.UUID,
	owner NotificationOwner,
) (*models.Notification, error) {
	where, args := owner.clause(2)

	var notification models.Notification
	err := scanNotification(r.db.QueryRow(ctx, `
		DELETE FROM notifications
		WHERE id = $1 AND `+where+`
		RETURNING `+notificationColumns,
		append([]any{notificationID}, args...)...,
	), &notification)
	if err != nil {
		return nil, err
	}
	return &notification, nil
}
