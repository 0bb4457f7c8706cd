package models

import (
	"encoding/json"
	"time"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderConfirmed     = "ORDER_CONFIRMED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderCompleted     = "ORDER_COMPLETED"
	EventTypeCalendarSyncFailed = "CALENDAR_SYNC_FAILED"
	EventTypeInboundMessage     = "INBOUND_MESSAGE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published for each order created from a NEW_ORDER message
type OrderCreatedEvent struct {
	BaseEvent
	OrderID         int64      `json:"order_id"`
	CustomerID      int64      `json:"customer_id"`
	SourceMessageID *int64     `json:"source_message_id,omitempty"`
	ItemDescription string     `json:"item_description"`
	Quantity        int        `json:"quantity"`
	Price           int64      `json:"price"`
	DueDate         *time.Time `json:"due_date,omitempty"`
}

// OrderConfirmedEvent published when an order reaches CONFIRMED
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID         int64   `json:"order_id"`
	CustomerID      int64   `json:"customer_id"`
	CalendarEventID *string `json:"calendar_event_id,omitempty"`
	CalendarSynced  bool    `json:"calendar_synced"`
}

// OrderCancelledEvent published when an order reaches CANCELLED
type OrderCancelledEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	FromStatus OrderStatus `json:"from_status"`
}

// OrderCompletedEvent published when an order reaches COMPLETED
type OrderCompletedEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
}

// CalendarSyncFailedEvent records a discrepancy between order state and the calendar
type CalendarSyncFailedEvent struct {
	BaseEvent
	OrderID         int64   `json:"order_id"`
	Operation       string  `json:"operation"`
	CalendarEventID *string `json:"calendar_event_id,omitempty"`
	Reason          string  `json:"reason"`
}

// InboundMessage is a normalized chat message handed from the dispatcher to the engine
type InboundMessage struct {
	BaseEvent
	Platform   string          `json:"platform"`
	ChatID     string          `json:"chat_id"`
	SenderName string          `json:"sender_name"`
	Text       string          `json:"text"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}
