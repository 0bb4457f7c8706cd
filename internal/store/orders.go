package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-order-service/internal/models"

	"github.com/lib/pq"
)

const orderColumns = "id, customer_id, source_message_id, client_name, item_description, quantity, price, " +
	"due_date, calendar_event_id, status, ai_confidence, created_at"

// CreateOrders inserts a batch of orders and marks their source message
// processed in one transaction
func (s *Store) CreateOrders(ctx context.Context, orders []*models.Order, mark MessageMark) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (customer_id, source_message_id, client_name, item_description,
			quantity, price, due_date, status, ai_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	for _, o := range orders {
		err := tx.QueryRowxContext(ctx, query,
			o.CustomerID, o.SourceMessageID, o.ClientName, o.ItemDescription,
			o.Quantity, o.Price, o.DueDate, string(o.Status), o.AIConfidence).
			Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
	}

	if err := markProcessed(ctx, tx, mark); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetCustomerOrder retrieves an order by ID scoped to its owner
func (s *Store) GetCustomerOrder(ctx context.Context, customerID, orderID int64) (*models.Order, error) {
	return s.getOrder(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND customer_id = $2",
		orderID, customerID)
}

// FindPendingOrder retrieves a PENDING order by ID scoped to its owner
func (s *Store) FindPendingOrder(ctx context.Context, customerID, orderID int64) (*models.Order, error) {
	return s.getOrder(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND customer_id = $2 AND status = $3",
		orderID, customerID, string(models.OrderStatusPending))
}

// LatestPendingOrder retrieves the customer's most recently created PENDING order
func (s *Store) LatestPendingOrder(ctx context.Context, customerID int64) (*models.Order, error) {
	return s.getOrder(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT 1",
		customerID, string(models.OrderStatusPending))
}

// CountOrdersForMessage counts the orders created from a raw message
func (s *Store) CountOrdersForMessage(ctx context.Context, messageID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM orders WHERE source_message_id = $1", messageID)
	return n, err
}

func (s *Store) getOrder(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ConfirmOrder moves a PENDING order to CONFIRMED and stores the calendar
// event reference, which may be nil when calendar sync failed.
func (s *Store) ConfirmOrder(ctx context.Context, orderID int64, calendarEventID *string, mark MessageMark) error {
	return s.transition(ctx, orderID, models.OrderStatusConfirmed, true, calendarEventID, mark)
}

// CancelOrder moves a non-terminal order to CANCELLED and clears its calendar reference
func (s *Store) CancelOrder(ctx context.Context, orderID int64, mark MessageMark) error {
	return s.transition(ctx, orderID, models.OrderStatusCancelled, true, nil, mark)
}

// CompleteOrder moves a CONFIRMED order to COMPLETED, keeping its calendar reference
func (s *Store) CompleteOrder(ctx context.Context, orderID int64) error {
	return s.transition(ctx, orderID, models.OrderStatusCompleted, false, nil, MessageMark{})
}

// transition applies a conditional status update guarded by the transition
// table, together with the message mark. ErrStatusConflict means the order
// was not in a source status and nothing was written.
func (s *Store) transition(ctx context.Context, orderID int64, to models.OrderStatus, setEvent bool, eventID *string, mark MessageMark) error {
	from := make([]string, 0, 2)
	for _, st := range models.SourcesOf(to) {
		from = append(from, string(st))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if setEvent {
		res, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, calendar_event_id = $2 WHERE id = $3 AND status = ANY($4)",
			string(to), eventID, orderID, pq.StringArray(from))
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1 WHERE id = $2 AND status = ANY($3)",
			string(to), orderID, pq.StringArray(from))
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}

	if err := markProcessed(ctx, tx, mark); err != nil {
		return err
	}
	return tx.Commit()
}

// ListOrdersDue returns the customer's non-cancelled orders due in [from, to),
// earliest first
func (s *Store) ListOrdersDue(ctx context.Context, customerID int64, from, to time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 AND due_date >= $2 AND due_date < $3 AND status <> $4 ORDER BY due_date ASC, id ASC",
		customerID, from, to, string(models.OrderStatusCancelled))
	return orders, err
}
