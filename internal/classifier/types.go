package classifier

import (
	"context"
	"errors"
	"time"
)

// ErrClassification marks an unreachable classifier or a non-conforming response
var ErrClassification = errors.New("classification failed")

// Intent is the classified purpose of a chat message
type Intent string

// Intents
const (
	IntentNewOrder   Intent = "NEW_ORDER"
	IntentConfirm    Intent = "CONFIRM"
	IntentCancel     Intent = "CANCEL"
	IntentListOrders Intent = "LIST_ORDERS"
	IntentUnknown    Intent = "UNKNOWN"
)

// Defaults applied to item fields the model left out
const (
	DefaultClientName     = "Owner"
	BareItemClientName    = "Unknown"
	DefaultItemName       = "Unknown Item"
	DefaultQuantity       = 1
	DefaultConfidence     = 1.0
	defaultDueDateHour    = 9
	dueDateLayout         = "2006-01-02 15:04:05"
	dueDateMinuteLayout   = "2006-01-02 15:04"
	dueDateDayOnlyLayout  = "2006-01-02"
	maxDescriptionLength  = 500
	maxClientNameLength   = 100
	maxContentLengthBytes = 64 << 10
)

// Item is one order line extracted from a NEW_ORDER message
type Item struct {
	Description string `json:"description" validate:"required,max=500"`
	Quantity    int    `json:"quantity" validate:"min=1"`
	Price       int64  `json:"price" validate:"min=0"`
	ClientName  string `json:"client_name" validate:"required,max=100"`
}

// Classification is the tagged result for one message. Items and DueDate are
// meaningful for NEW_ORDER only, OrderID for CONFIRM and CANCEL.
type Classification struct {
	Intent     Intent     `json:"intent" validate:"oneof=NEW_ORDER CONFIRM CANCEL LIST_ORDERS UNKNOWN"`
	Items      []Item     `json:"items,omitempty" validate:"dive"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	OrderID    *int64     `json:"order_id,omitempty" validate:"omitempty,min=1"`
	Confidence float64    `json:"confidence" validate:"min=0,max=1"`
}

// Classifier turns message text into a Classification
type Classifier interface {
	Classify(ctx context.Context, text string, now time.Time) (*Classification, error)
}
