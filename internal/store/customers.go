package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-order-service/internal/models"
)

const customerColumns = "id, platform, chat_id, name, address, created_at"

// GetCustomer retrieves a customer by its platform identity
func (s *Store) GetCustomer(ctx context.Context, platform, chatID string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c,
		"SELECT "+customerColumns+" FROM customers WHERE platform = $1 AND chat_id = $2",
		platform, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a customer. If another request created the same
// (platform, chat_id) first, the existing row is loaded into c instead.
func (s *Store) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (platform, chat_id, name, address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, chat_id) DO NOTHING
		RETURNING ` + customerColumns

	err := s.db.GetContext(ctx, c, query, c.Platform, c.ChatID, c.Name, c.Address)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetCustomer(ctx, c.Platform, c.ChatID)
		if getErr != nil {
			return fmt.Errorf("failed to load existing customer: %w", getErr)
		}
		*c = *existing
		return nil
	}
	return err
}

// BackfillCustomerName sets the name only when it is still NULL
func (s *Store) BackfillCustomerName(ctx context.Context, customerID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE customers SET name = $1 WHERE id = $2 AND name IS NULL",
		name, customerID)
	return err
}
