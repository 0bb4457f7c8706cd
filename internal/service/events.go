package service

import (
	"context"
	"time"

	"chat-order-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes order lifecycle events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishCalendarSyncFailed(ctx context.Context, event *models.CalendarSyncFailedEvent) error
}

// NopEventPublisher drops every event
type NopEventPublisher struct{}

func (NopEventPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (NopEventPublisher) PublishOrderConfirmed(context.Context, *models.OrderConfirmedEvent) error {
	return nil
}

func (NopEventPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}

func (NopEventPublisher) PublishOrderCompleted(context.Context, *models.OrderCompletedEvent) error {
	return nil
}

func (NopEventPublisher) PublishCalendarSyncFailed(context.Context, *models.CalendarSyncFailedEvent) error {
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Publishing is best-effort: state is already committed when these run.

func (e *Engine) publishCreated(ctx context.Context, order *models.Order) {
	err := e.events.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeOrderCreated),
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		SourceMessageID: order.SourceMessageID,
		ItemDescription: order.ItemDescription,
		Quantity:        order.Quantity,
		Price:           order.Price,
		DueDate:         order.DueDate,
	})
	e.logPublishErr(err, models.EventTypeOrderCreated, order.ID)
}

func (e *Engine) publishConfirmed(ctx context.Context, order *models.Order, eventID *string) {
	err := e.events.PublishOrderConfirmed(ctx, &models.OrderConfirmedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		CalendarEventID: eventID,
		CalendarSynced:  eventID != nil,
	})
	e.logPublishErr(err, models.EventTypeOrderConfirmed, order.ID)
}

func (e *Engine) publishCancelled(ctx context.Context, order *models.Order, from models.OrderStatus) {
	err := e.events.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		FromStatus: from,
	})
	e.logPublishErr(err, models.EventTypeOrderCancelled, order.ID)
}

func (e *Engine) publishCompleted(ctx context.Context, order *models.Order) {
	err := e.events.PublishOrderCompleted(ctx, &models.OrderCompletedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCompleted),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
	})
	e.logPublishErr(err, models.EventTypeOrderCompleted, order.ID)
}

func (e *Engine) publishCalendarSyncFailed(ctx context.Context, event *models.CalendarSyncFailedEvent) {
	event.BaseEvent = newBaseEvent(models.EventTypeCalendarSyncFailed)
	err := e.events.PublishCalendarSyncFailed(ctx, event)
	e.logPublishErr(err, models.EventTypeCalendarSyncFailed, event.OrderID)
}

func (e *Engine) logPublishErr(err error, eventType string, orderID int64) {
	if err != nil {
		e.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}
