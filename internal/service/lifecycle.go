package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat-order-service/internal/classifier"
	"chat-order-service/internal/models"
	"chat-order-service/internal/store"
	"chat-order-service/internal/util"

	"go.uber.org/zap"
)

// Rejection reasons reported in Outcome and the validation_rejections_total metric
const (
	rejectNoItems         = "no_items"
	rejectNoPendingOrder  = "no_pending_order"
	rejectMissingDueDate  = "missing_due_date"
	rejectMissingOrderID  = "missing_order_id"
	rejectOrderNotFound   = "order_not_found"
	rejectNotActionable   = "order_not_actionable"
	rejectClassifyFailure = "classification_failed"
)

func (e *Engine) newOrder(ctx context.Context, customer *models.Customer, cls *classifier.Classification, mark store.MessageMark, out *Outcome) error {
	ctx, span := util.StartSpan(ctx, "Engine.newOrder")
	defer span.End()

	if len(cls.Items) == 0 {
		out.Rejection = rejectNoItems
		out.Reply = replyGuidance()
		return nil
	}

	confidence := cls.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = classifier.DefaultConfidence
	}

	msgID := mark.MessageID
	orders := make([]*models.Order, 0, len(cls.Items))
	for _, item := range cls.Items {
		orders = append(orders, &models.Order{
			CustomerID:      customer.ID,
			SourceMessageID: &msgID,
			ClientName:      item.ClientName,
			ItemDescription: item.Description,
			Quantity:        item.Quantity,
			Price:           item.Price,
			DueDate:         cls.DueDate,
			Status:          models.OrderStatusPending,
			AIConfidence:    confidence,
		})
	}

	unlock, err := e.lockCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.repo.CreateOrders(ctx, orders, mark); err != nil {
		return fmt.Errorf("failed to create orders: %w", err)
	}
	out.settled = true

	for _, o := range orders {
		o := o
		out.OrderIDs = append(out.OrderIDs, o.ID)
		util.OrdersCreatedTotal.Inc()
		out.emit(func(ctx context.Context) { e.publishCreated(ctx, o) })
	}

	e.logger.Info("Orders created",
		zap.Int64("customer_id", customer.ID),
		zap.Int64("message_id", mark.MessageID),
		zap.Int64s("order_ids", out.OrderIDs))

	out.Reply = replyReview(orders, cls.DueDate, e.loc)
	return nil
}

func (e *Engine) confirm(ctx context.Context, customer *models.Customer, cls *classifier.Classification, mark store.MessageMark, out *Outcome) error {
	ctx, span := util.StartSpan(ctx, "Engine.confirm")
	defer span.End()

	unlock, err := e.lockCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}
	defer unlock()

	var order *models.Order
	if cls.OrderID != nil {
		order, err = e.repo.FindPendingOrder(ctx, customer.ID, *cls.OrderID)
	} else {
		order, err = e.repo.LatestPendingOrder(ctx, customer.ID)
	}
	if isNotFound(err) {
		out.Rejection = rejectNoPendingOrder
		out.Reply = replyNoPendingOrder(cls.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	if order.DueDate == nil {
		out.Rejection = rejectMissingDueDate
		out.Defects = append(out.Defects, fmt.Sprintf("order %d has no due date", order.ID))
		out.Reply = replyMissingDueDate(order)
		return nil
	}

	eventRef := order.CalendarEventID
	created := false
	if order.HasCalendarEvent() {
		e.logger.Warn("Order already holds a calendar event, skipping create",
			zap.Int64("order_id", order.ID),
			zap.String("event_id", *eventRef))
	} else if id, ok := e.syncCreate(ctx, order, out); ok {
		eventRef = &id
		created = true
	} else {
		out.CalendarDiscrepancies = append(out.CalendarDiscrepancies, order.ID)
	}

	if err := e.repo.ConfirmOrder(ctx, order.ID, eventRef, mark); err != nil {
		if created {
			// the event must not outlive a confirmation that never happened,
			// including one whose request was abandoned mid-flight
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
			e.syncDelete(cctx, order, *eventRef, out)
			cancel()
		}
		if errors.Is(err, store.ErrStatusConflict) {
			out.Rejection = rejectNotActionable
			out.Reply = replyNoPendingOrder(&order.ID)
			return nil
		}
		return fmt.Errorf("failed to confirm order: %w", err)
	}

	out.settled = true

	synced := eventRef != nil
	order.Status = models.OrderStatusConfirmed
	order.CalendarEventID = eventRef
	out.OrderIDs = append(out.OrderIDs, order.ID)
	util.OrdersConfirmedTotal.WithLabelValues(strconv.FormatBool(synced)).Inc()
	out.emit(func(ctx context.Context) { e.publishConfirmed(ctx, order, eventRef) })

	e.logger.Info("Order confirmed",
		zap.Int64("order_id", order.ID),
		zap.Bool("calendar_synced", synced))

	out.Reply = replyConfirmed(order, synced)
	return nil
}

func (e *Engine) cancel(ctx context.Context, customer *models.Customer, cls *classifier.Classification, mark store.MessageMark, out *Outcome) error {
	ctx, span := util.StartSpan(ctx, "Engine.cancel")
	defer span.End()

	if cls.OrderID == nil {
		out.Rejection = rejectMissingOrderID
		out.Reply = replyCancelNeedsID()
		return nil
	}

	unlock, err := e.lockCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := e.repo.GetCustomerOrder(ctx, customer.ID, *cls.OrderID)
	if isNotFound(err) {
		out.Rejection = rejectOrderNotFound
		out.Reply = replyOrderNotFound(*cls.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		out.Rejection = rejectNotActionable
		out.Reply = replyAlreadyTerminal(order)
		return nil
	}

	hadEvent := order.HasCalendarEvent()
	if hadEvent && !e.syncDelete(ctx, order, *order.CalendarEventID, out) {
		out.CalendarDiscrepancies = append(out.CalendarDiscrepancies, order.ID)
	}

	// the reference is cleared whether or not the delete went through
	from := order.Status
	if err := e.repo.CancelOrder(ctx, order.ID, mark); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			out.Rejection = rejectNotActionable
			out.Reply = replyOrderNotFound(order.ID)
			return nil
		}
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	out.settled = true

	order.Status = models.OrderStatusCancelled
	order.CalendarEventID = nil
	out.OrderIDs = append(out.OrderIDs, order.ID)
	util.OrdersCancelledTotal.Inc()
	out.emit(func(ctx context.Context) { e.publishCancelled(ctx, order, from) })

	e.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("from_status", string(from)))

	out.Reply = replyCancelled(order, hadEvent)
	return nil
}

func (e *Engine) listOrders(ctx context.Context, customer *models.Customer, now time.Time, out *Outcome) error {
	ctx, span := util.StartSpan(ctx, "Engine.listOrders")
	defer span.End()

	from, to := e.listWindowBounds(now)
	orders, err := e.repo.ListOrdersDue(ctx, customer.ID, from, to)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	for _, o := range orders {
		out.OrderIDs = append(out.OrderIDs, o.ID)
	}
	out.Reply = replyOrderList(orders, e.listWindow, e.loc)
	return nil
}

// listWindowBounds returns [start of today, start of today+window+1) in the
// business time zone, so the last day of the window is included whole.
func (e *Engine) listWindowBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.In(e.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, e.loc)
	return from, from.AddDate(0, 0, e.listWindow+1)
}

// CompleteOrder marks a CONFIRMED order as delivered. The calendar event is kept.
func (e *Engine) CompleteOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Engine.CompleteOrder")
	defer span.End()

	order, err := e.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	order, err = e.completeLocked(ctx, order.CustomerID, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCompletedTotal.Inc()
	e.publishCompleted(ctx, order)

	e.logger.Info("Order completed", zap.Int64("order_id", order.ID))
	return order, nil
}

func (e *Engine) completeLocked(ctx context.Context, customerID, orderID int64) (*models.Order, error) {
	unlock, err := e.lockCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock
	order, err := e.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusCompleted) {
		return nil, fmt.Errorf("%w: order %d is %s", ErrNotActionable, order.ID, order.Status)
	}

	if err := e.repo.CompleteOrder(ctx, order.ID); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order %d changed status", ErrNotActionable, order.ID)
		}
		return nil, fmt.Errorf("failed to complete order: %w", err)
	}

	order.Status = models.OrderStatusCompleted
	return order, nil
}
