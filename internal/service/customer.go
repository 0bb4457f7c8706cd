package service

import (
	"context"
	"strings"

	"chat-order-service/internal/models"

	"go.uber.org/zap"
)

// ResolveCustomer returns the customer for (platform, chatID), creating it on
// first contact. A stored name is never overwritten; an absent one is
// backfilled from nameHint.
func (e *Engine) ResolveCustomer(ctx context.Context, platform, chatID, nameHint string) (*models.Customer, error) {
	nameHint = strings.TrimSpace(nameHint)

	c, err := e.repo.GetCustomer(ctx, platform, chatID)
	if err == nil {
		if c.Name == nil && nameHint != "" {
			if err := e.repo.BackfillCustomerName(ctx, c.ID, nameHint); err != nil {
				return nil, err
			}
			c.Name = &nameHint
		}
		return c, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	c = &models.Customer{Platform: platform, ChatID: chatID}
	if nameHint != "" {
		c.Name = &nameHint
	}
	// CreateCustomer loads the existing row if a concurrent insert won
	if err := e.repo.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info("Customer resolved",
		zap.Int64("customer_id", c.ID),
		zap.String("platform", platform),
		zap.String("chat_id", chatID))
	return c, nil
}
