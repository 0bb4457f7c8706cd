package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-order-service/internal/classifier"
	"chat-order-service/internal/models"
	"chat-order-service/internal/store"
)

type memRepo struct {
	mu        sync.Mutex
	customers map[int64]*models.Customer
	messages  map[int64]*models.RawMessage
	orders    map[int64]*models.Order
	nextID    int64
	mutations int
	clock     func() time.Time

	failCreateOrders error
	failConfirm      error
	// failMark fails every write of the processed flag, standalone or
	// alongside an order write
	failMark error
}

func newMemRepo() *memRepo {
	return &memRepo{
		customers: make(map[int64]*models.Customer),
		messages:  make(map[int64]*models.RawMessage),
		orders:    make(map[int64]*models.Order),
		clock:     time.Now,
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) GetCustomer(_ context.Context, platform, chatID string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Platform == platform && c.ChatID == chatID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) GetCustomerByID(_ context.Context, id int64) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) CreateCustomer(_ context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.customers {
		if existing.Platform == c.Platform && existing.ChatID == c.ChatID {
			*c = *existing
			return nil
		}
	}
	c.ID = r.id()
	c.CreatedAt = r.clock()
	cp := *c
	r.customers[c.ID] = &cp
	return nil
}

func (r *memRepo) BackfillCustomerName(_ context.Context, customerID int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[customerID]; ok && c.Name == nil {
		c.Name = &name
	}
	return nil
}

func (r *memRepo) CreateRawMessage(_ context.Context, msg *models.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = r.id()
	msg.ReceivedAt = r.clock()
	cp := *msg
	r.messages[msg.ID] = &cp
	return nil
}

func (r *memRepo) GetRawMessage(_ context.Context, id int64) (*models.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memRepo) MarkMessageProcessed(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMark != nil {
		return r.failMark
	}
	if _, ok := r.messages[id]; !ok {
		return store.ErrNotFound
	}
	r.applyMark(store.MessageMark{MessageID: id, At: at})
	return nil
}

// checkMark reports whether mark could be written; callers hold r.mu
func (r *memRepo) checkMark(mark store.MessageMark) error {
	if mark.MessageID == 0 {
		return nil
	}
	return r.failMark
}

func (r *memRepo) applyMark(mark store.MessageMark) {
	if m, ok := r.messages[mark.MessageID]; ok && !m.IsProcessed {
		at := mark.At
		m.IsProcessed = true
		m.ProcessedAt = &at
	}
}

func (r *memRepo) ListUnprocessedMessages(_ context.Context, limit int) ([]models.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RawMessage
	for _, m := range r.messages {
		if !m.IsProcessed {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) CreateOrders(ctx context.Context, orders []*models.Order, mark store.MessageMark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateOrders != nil {
		return r.failCreateOrders
	}
	if err := r.checkMark(mark); err != nil {
		return err
	}
	r.mutations++
	r.applyMark(mark)
	for _, o := range orders {
		o.ID = r.id()
		o.CreatedAt = r.clock()
		cp := *o
		r.orders[o.ID] = &cp
	}
	return nil
}

func (r *memRepo) find(match func(o *models.Order) bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Order
	for _, o := range r.orders {
		if match(o) && (best == nil || o.ID > best.ID) {
			best = o
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	return r.find(func(o *models.Order) bool { return o.ID == id })
}

func (r *memRepo) GetCustomerOrder(_ context.Context, customerID, orderID int64) (*models.Order, error) {
	return r.find(func(o *models.Order) bool { return o.ID == orderID && o.CustomerID == customerID })
}

func (r *memRepo) FindPendingOrder(_ context.Context, customerID, orderID int64) (*models.Order, error) {
	return r.find(func(o *models.Order) bool {
		return o.ID == orderID && o.CustomerID == customerID && o.Status == models.OrderStatusPending
	})
}

func (r *memRepo) LatestPendingOrder(_ context.Context, customerID int64) (*models.Order, error) {
	return r.find(func(o *models.Order) bool {
		return o.CustomerID == customerID && o.Status == models.OrderStatusPending
	})
}

func (r *memRepo) CountOrdersForMessage(_ context.Context, messageID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.orders {
		if o.SourceMessageID != nil && *o.SourceMessageID == messageID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) transition(ctx context.Context, orderID int64, to models.OrderStatus, setEvent bool, eventID *string, mark store.MessageMark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || !o.Status.CanTransitionTo(to) {
		return store.ErrStatusConflict
	}
	if err := r.checkMark(mark); err != nil {
		return err
	}
	r.mutations++
	r.applyMark(mark)
	o.Status = to
	if setEvent {
		o.CalendarEventID = eventID
	}
	return nil
}

func (r *memRepo) ConfirmOrder(ctx context.Context, orderID int64, calendarEventID *string, mark store.MessageMark) error {
	if r.failConfirm != nil {
		return r.failConfirm
	}
	return r.transition(ctx, orderID, models.OrderStatusConfirmed, true, calendarEventID, mark)
}

func (r *memRepo) CancelOrder(ctx context.Context, orderID int64, mark store.MessageMark) error {
	return r.transition(ctx, orderID, models.OrderStatusCancelled, true, nil, mark)
}

func (r *memRepo) CompleteOrder(ctx context.Context, orderID int64) error {
	return r.transition(ctx, orderID, models.OrderStatusCompleted, false, nil, store.MessageMark{})
}

func (r *memRepo) setFailMark(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failMark = err
}

func (r *memRepo) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memRepo) ListOrdersDue(_ context.Context, customerID int64, from, to time.Time) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.CustomerID != customerID || o.DueDate == nil || o.Status == models.OrderStatusCancelled {
			continue
		}
		if o.DueDate.Before(from) || !o.DueDate.Before(to) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(*out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(*out[j].DueDate)
	})
	return out, nil
}

func (r *memRepo) order(id int64) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

func (r *memRepo) mutationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations
}

// seedOrder inserts an order directly, bypassing the engine
func (r *memRepo) seedOrder(o models.Order) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.ID = r.id()
	o.CreatedAt = r.clock()
	r.orders[o.ID] = &o
	return o.ID
}

type fakeCalendar struct {
	mu        sync.Mutex
	creates   int
	deletes   []string
	createErr error
	deleteErr error
	delay     time.Duration
	// afterCreate runs once an event has been created
	afterCreate func()
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, order *models.Order) (string, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.creates++
	n, err := c.creates, c.createErr
	hook := c.afterCreate
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	if hook != nil {
		hook()
	}
	return fmt.Sprintf("evt-%d-%d", order.ID, n), nil
}

func (c *fakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, eventID)
	return c.deleteErr
}

func (c *fakeCalendar) deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deletes...)
}

func (c *fakeCalendar) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

type sentReply struct {
	chatID string
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, chatID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReply{chatID: chatID, text: text})
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1].text
}

// stubClassifier returns canned classifications keyed by message text
type stubClassifier struct {
	results map[string]*classifier.Classification
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *stubClassifier) Classify(_ context.Context, text string, _ time.Time) (*classifier.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if c, ok := s.results[text]; ok {
		return c, nil
	}
	return &classifier.Classification{Intent: classifier.IntentUnknown, Confidence: 1}, nil
}

type recordingPublisher struct {
	NopEventPublisher
	mu    sync.Mutex
	types []string
	// onPublish runs before each event is recorded
	onPublish func()
}

func (p *recordingPublisher) record(t string) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, t)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderConfirmed(_ context.Context, e *models.OrderConfirmedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCompleted(_ context.Context, e *models.OrderCompletedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishCalendarSyncFailed(_ context.Context, e *models.CalendarSyncFailedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}
