package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// PlatformTelegram is the platform tag stored for Telegram chats
const PlatformTelegram = "TG"

// Customer is a chat identity, unique per (platform, chat_id)
type Customer struct {
	ID        int64     `db:"id" json:"id"`
	Platform  string    `db:"platform" json:"platform"`
	ChatID    string    `db:"chat_id" json:"chat_id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RawMessage is the immutable record of one inbound chat message
type RawMessage struct {
	ID          int64          `db:"id" json:"id"`
	CustomerID  int64          `db:"customer_id" json:"customer_id"`
	Text        string         `db:"text" json:"text"`
	MetaData    types.JSONText `db:"meta_data" json:"meta_data"`
	ReceivedAt  time.Time      `db:"received_at" json:"received_at"`
	IsProcessed bool           `db:"is_processed" json:"is_processed"`
	ProcessedAt *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
}

// Order is one item line requested by a customer
type Order struct {
	ID              int64       `db:"id" json:"id"`
	CustomerID      int64       `db:"customer_id" json:"customer_id"`
	SourceMessageID *int64      `db:"source_message_id" json:"source_message_id,omitempty"`
	ClientName      string      `db:"client_name" json:"client_name"`
	ItemDescription string      `db:"item_description" json:"item_description"`
	Quantity        int         `db:"quantity" json:"quantity"`
	Price           int64       `db:"price" json:"price"`
	DueDate         *time.Time  `db:"due_date" json:"due_date,omitempty"`
	CalendarEventID *string     `db:"calendar_event_id" json:"calendar_event_id,omitempty"`
	Status          OrderStatus `db:"status" json:"status"`
	AIConfidence    float64     `db:"ai_confidence" json:"ai_confidence"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// HasCalendarEvent reports whether the order holds an event reference
func (o *Order) HasCalendarEvent() bool {
	return o.CalendarEventID != nil && *o.CalendarEventID != ""
}

// OrderStatus is the lifecycle state of an Order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCompleted, OrderStatusCancelled},
}

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo reports whether s -> next is a defined transition
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses from which next can be reached
func SourcesOf(next OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}
