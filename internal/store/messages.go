package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-order-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const rawMessageColumns = "id, customer_id, text, meta_data, received_at, is_processed, processed_at"

// CreateRawMessage appends an inbound message record
func (s *Store) CreateRawMessage(ctx context.Context, msg *models.RawMessage) error {
	if len(msg.MetaData) == 0 {
		msg.MetaData = []byte("{}")
	}

	query := `
		INSERT INTO raw_messages (customer_id, text, meta_data)
		VALUES ($1, $2, $3)
		RETURNING id, received_at, is_processed`

	return s.db.QueryRowxContext(ctx, query, msg.CustomerID, msg.Text, msg.MetaData).
		Scan(&msg.ID, &msg.ReceivedAt, &msg.IsProcessed)
}

// GetRawMessage retrieves a raw message by ID
func (s *Store) GetRawMessage(ctx context.Context, id int64) (*models.RawMessage, error) {
	var msg models.RawMessage
	err := s.db.GetContext(ctx, &msg, "SELECT "+rawMessageColumns+" FROM raw_messages WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessageMark names the raw message an order write settles. The zero value
// marks nothing.
type MessageMark struct {
	MessageID int64
	At        time.Time
}

// MarkMessageProcessed flips the processed flag
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64, at time.Time) error {
	return markProcessed(ctx, s.db, MessageMark{MessageID: id, At: at})
}

func markProcessed(ctx context.Context, db sqlx.ExecerContext, mark MessageMark) error {
	if mark.MessageID == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx,
		"UPDATE raw_messages SET is_processed = TRUE, processed_at = $1 WHERE id = $2 AND NOT is_processed",
		mark.At, mark.MessageID)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// ListUnprocessedMessages returns the oldest messages still awaiting processing
func (s *Store) ListUnprocessedMessages(ctx context.Context, limit int) ([]models.RawMessage, error) {
	var msgs []models.RawMessage
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT "+rawMessageColumns+" FROM raw_messages WHERE NOT is_processed ORDER BY received_at ASC LIMIT $1",
		limit)
	return msgs, err
}
