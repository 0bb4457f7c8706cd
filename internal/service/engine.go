package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-order-service/internal/classifier"
	"chat-order-service/internal/models"
	"chat-order-service/internal/store"
	"chat-order-service/internal/util"

	"go.uber.org/zap"
)

const (
	publishTimeout      = 5 * time.Second
	compensationTimeout = 10 * time.Second
)

var (
	// ErrNotActionable is returned when an order exists but its status admits no such transition
	ErrNotActionable = errors.New("order not in an actionable state")
	// ErrAlreadyProcessed is returned when reprocessing a message that is already processed
	ErrAlreadyProcessed = errors.New("message already processed")
)

// Repository is the Entity Store contract used by the engine
type Repository interface {
	GetCustomer(ctx context.Context, platform, chatID string) (*models.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	BackfillCustomerName(ctx context.Context, customerID int64, name string) error

	CreateRawMessage(ctx context.Context, msg *models.RawMessage) error
	GetRawMessage(ctx context.Context, id int64) (*models.RawMessage, error)
	MarkMessageProcessed(ctx context.Context, id int64, at time.Time) error
	ListUnprocessedMessages(ctx context.Context, limit int) ([]models.RawMessage, error)

	CreateOrders(ctx context.Context, orders []*models.Order, mark store.MessageMark) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetCustomerOrder(ctx context.Context, customerID, orderID int64) (*models.Order, error)
	FindPendingOrder(ctx context.Context, customerID, orderID int64) (*models.Order, error)
	LatestPendingOrder(ctx context.Context, customerID int64) (*models.Order, error)
	CountOrdersForMessage(ctx context.Context, messageID int64) (int, error)
	ConfirmOrder(ctx context.Context, orderID int64, calendarEventID *string, mark store.MessageMark) error
	CancelOrder(ctx context.Context, orderID int64, mark store.MessageMark) error
	CompleteOrder(ctx context.Context, orderID int64) error
	ListOrdersDue(ctx context.Context, customerID int64, from, to time.Time) ([]models.Order, error)
}

// Calendar is the Calendar Sync Adapter contract
type Calendar interface {
	CreateEvent(ctx context.Context, order *models.Order) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Notifier delivers a reply to a chat
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}

// Locker provides the per-customer critical section
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Outcome describes what handling one message did
type Outcome struct {
	MessageID             int64             `json:"message_id"`
	CustomerID            int64             `json:"customer_id"`
	Intent                classifier.Intent `json:"intent"`
	Reply                 string            `json:"reply"`
	OrderIDs              []int64           `json:"order_ids,omitempty"`
	Rejection             string            `json:"rejection,omitempty"`
	CalendarDiscrepancies []int64           `json:"calendar_discrepancies,omitempty"`
	Defects               []string          `json:"defects,omitempty"`

	// settled is set once an order write has marked the message processed
	settled bool
	// publish holds lifecycle events to emit after the customer lock is released
	publish []func(ctx context.Context)
}

func (o *Outcome) emit(fn func(ctx context.Context)) {
	o.publish = append(o.publish, fn)
}

// EngineConfig holds the engine's business settings
type EngineConfig struct {
	Location       *time.Location
	ListWindowDays int
	Clock          func() time.Time
}

// Engine is the order lifecycle state machine. It owns every status
// transition and the calendar side effects attached to them.
type Engine struct {
	repo       Repository
	classifier classifier.Classifier
	calendar   Calendar
	notifier   Notifier
	locker     Locker
	events     EventPublisher
	loc        *time.Location
	listWindow int
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine creates a new lifecycle engine
func NewEngine(
	repo Repository,
	cls classifier.Classifier,
	calendar Calendar,
	notifier Notifier,
	locker Locker,
	events EventPublisher,
	cfg EngineConfig,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ListWindowDays <= 0 {
		cfg.ListWindowDays = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if events == nil {
		events = NopEventPublisher{}
	}
	return &Engine{
		repo:       repo,
		classifier: cls,
		calendar:   calendar,
		notifier:   notifier,
		locker:     locker,
		events:     events,
		loc:        cfg.Location,
		listWindow: cfg.ListWindowDays,
		now:        cfg.Clock,
		logger:     util.GetLogger(),
	}
}

// HandleMessage runs one inbound message through the lifecycle. A returned
// error is a store or lock failure; no reply has been sent in that case.
func (e *Engine) HandleMessage(ctx context.Context, in *models.InboundMessage) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.HandleMessage")
	defer span.End()

	customer, err := e.ResolveCustomer(ctx, in.Platform, in.ChatID, in.SenderName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	raw := &models.RawMessage{
		CustomerID: customer.ID,
		Text:       in.Text,
		MetaData:   []byte(in.RawPayload),
	}
	if err := e.repo.CreateRawMessage(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to store raw message: %w", err)
	}

	util.MessagesReceivedTotal.WithLabelValues(in.Platform).Inc()
	return e.process(ctx, customer, raw)
}

// ReprocessMessage re-runs classification for a message left unprocessed.
// A message that already produced orders is only marked processed.
func (e *Engine) ReprocessMessage(ctx context.Context, messageID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ReprocessMessage")
	defer span.End()

	raw, err := e.repo.GetRawMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if raw.IsProcessed {
		return nil, ErrAlreadyProcessed
	}

	customer, err := e.repo.GetCustomerByID(ctx, raw.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	n, err := e.repo.CountOrdersForMessage(ctx, raw.ID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := e.repo.MarkMessageProcessed(ctx, raw.ID, e.now()); err != nil {
			return nil, err
		}
		e.logger.Info("Message already produced orders, marked processed",
			zap.Int64("message_id", raw.ID),
			zap.Int("orders", n))
		return &Outcome{
			MessageID:  raw.ID,
			CustomerID: customer.ID,
			Intent:     classifier.IntentNewOrder,
			Defects:    []string{fmt.Sprintf("message %d already produced %d orders", raw.ID, n)},
		}, nil
	}

	return e.process(ctx, customer, raw)
}

// ListUnprocessedMessages returns messages awaiting reprocessing
func (e *Engine) ListUnprocessedMessages(ctx context.Context, limit int) ([]models.RawMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.repo.ListUnprocessedMessages(ctx, limit)
}

// GetOrder retrieves an order by ID
func (e *Engine) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return e.repo.GetOrderByID(ctx, orderID)
}

func (e *Engine) process(ctx context.Context, customer *models.Customer, raw *models.RawMessage) (*Outcome, error) {
	now := e.now()
	out := &Outcome{MessageID: raw.ID, CustomerID: customer.ID}

	cls, err := e.classifier.Classify(ctx, raw.Text, now)
	if err == nil && cls == nil {
		err = classifier.ErrClassification
	}
	if err != nil {
		util.ClassificationFailuresTotal.Inc()
		e.logger.Warn("Classification failed, message left unprocessed",
			zap.Int64("message_id", raw.ID),
			zap.Error(err))
		out.Intent = classifier.IntentUnknown
		out.Rejection = rejectClassifyFailure
		out.Reply = replyClassificationFailed()
		e.reply(ctx, customer.ChatID, out.Reply)
		return out, nil
	}

	out.Intent = cls.Intent
	util.MessagesByIntentTotal.WithLabelValues(string(cls.Intent)).Inc()

	mark := store.MessageMark{MessageID: raw.ID, At: now}
	switch cls.Intent {
	case classifier.IntentNewOrder:
		err = e.newOrder(ctx, customer, cls, mark, out)
	case classifier.IntentConfirm:
		err = e.confirm(ctx, customer, cls, mark, out)
	case classifier.IntentCancel:
		err = e.cancel(ctx, customer, cls, mark, out)
	case classifier.IntentListOrders:
		err = e.listOrders(ctx, customer, now, out)
	default:
		out.Reply = replyGuidance()
	}
	if err != nil {
		e.flushEvents(ctx, out)
		return nil, err
	}

	// order writes mark the message inside their own transaction
	if !out.settled {
		if err := e.repo.MarkMessageProcessed(ctx, raw.ID, now); err != nil {
			e.flushEvents(ctx, out)
			return nil, fmt.Errorf("failed to mark message processed: %w", err)
		}
	}

	if out.Rejection != "" {
		util.ValidationRejectionsTotal.WithLabelValues(out.Rejection).Inc()
	}
	e.reply(ctx, customer.ChatID, out.Reply)
	e.flushEvents(ctx, out)
	return out, nil
}

// flushEvents publishes the events collected while handling a message. The
// state they describe is committed, so they go out even if ctx was cancelled.
func (e *Engine) flushEvents(ctx context.Context, out *Outcome) {
	if len(out.publish) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, fn := range out.publish {
		fn(ctx)
	}
	out.publish = nil
}

// reply is fire-and-forget
func (e *Engine) reply(ctx context.Context, chatID, text string) {
	if err := e.notifier.Send(ctx, chatID, text); err != nil {
		util.NotifierFailuresTotal.Inc()
		e.logger.Error("Failed to deliver reply",
			zap.String("chat_id", chatID),
			zap.Error(err))
	}
}

func (e *Engine) lockCustomer(ctx context.Context, customerID int64) (func(), error) {
	unlock, err := e.locker.Lock(ctx, fmt.Sprintf("customer:%d", customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer %d: %w", customerID, err)
	}
	return unlock, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
