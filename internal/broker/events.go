package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-order-service/internal/models"
	"chat-order-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes order lifecycle events keyed by order
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderConfirmed publishes OrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCompleted publishes OrderCompleted event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishCalendarSyncFailed publishes CalendarSyncFailed event
func (ep *EventPublisher) PublishCalendarSyncFailed(ctx context.Context, event *models.CalendarSyncFailedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// InboundPublisher queues normalized chat messages for the inbound worker.
// Messages are keyed by chat so one chat's messages stay in order.
type InboundPublisher struct {
	producer *Producer
}

// NewInboundPublisher creates a new inbound message publisher
func NewInboundPublisher(producer *Producer) *InboundPublisher {
	return &InboundPublisher{producer: producer}
}

// PublishInboundMessage publishes an InboundMessage event
func (ip *InboundPublisher) PublishInboundMessage(ctx context.Context, msg *models.InboundMessage) error {
	key := fmt.Sprintf("%s:%s", msg.Platform, msg.ChatID)
	return ip.producer.PublishEvent(ctx, key, msg)
}

// EventHandler handles incoming events
type EventHandler struct {
	onInboundMessage func(context.Context, *models.InboundMessage) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnInboundMessage registers a handler for InboundMessage events
func (eh *EventHandler) OnInboundMessage(handler func(context.Context, *models.InboundMessage) error) {
	eh.onInboundMessage = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrUndecodable, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeInboundMessage:
		if eh.onInboundMessage != nil {
			var event models.InboundMessage
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: InboundMessage event: %v", ErrUndecodable, err)
			}
			return eh.onInboundMessage(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
