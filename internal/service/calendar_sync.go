package service

import (
	"context"
	"time"

	"chat-order-service/internal/models"
	"chat-order-service/internal/util"

	"go.uber.org/zap"
)

const (
	calendarOpCreate = "create"
	calendarOpDelete = "delete"
)

// syncCreate creates the calendar event for a confirming order. Failures are
// reported as discrepancies and never block the transition.
func (e *Engine) syncCreate(ctx context.Context, order *models.Order, out *Outcome) (string, bool) {
	ctx, span := util.StartSpan(ctx, "Engine.syncCreate")
	defer span.End()

	start := time.Now()
	eventID, err := e.calendar.CreateEvent(ctx, order)
	util.CalendarLatency.WithLabelValues(calendarOpCreate).Observe(time.Since(start).Seconds())
	if err != nil {
		e.calendarFailed(order, calendarOpCreate, nil, err, out)
		return "", false
	}

	e.logger.Info("Calendar event created",
		zap.Int64("order_id", order.ID),
		zap.String("event_id", eventID))
	return eventID, true
}

// syncDelete removes an order's calendar event. Returns false on failure.
func (e *Engine) syncDelete(ctx context.Context, order *models.Order, eventID string, out *Outcome) bool {
	ctx, span := util.StartSpan(ctx, "Engine.syncDelete")
	defer span.End()

	start := time.Now()
	err := e.calendar.DeleteEvent(ctx, eventID)
	util.CalendarLatency.WithLabelValues(calendarOpDelete).Observe(time.Since(start).Seconds())
	if err != nil {
		e.calendarFailed(order, calendarOpDelete, &eventID, err, out)
		return false
	}

	e.logger.Info("Calendar event deleted",
		zap.Int64("order_id", order.ID),
		zap.String("event_id", eventID))
	return true
}

func (e *Engine) calendarFailed(order *models.Order, op string, eventID *string, err error, out *Outcome) {
	util.CalendarSyncFailuresTotal.WithLabelValues(op).Inc()
	e.logger.Error("Calendar sync failed",
		zap.Int64("order_id", order.ID),
		zap.String("operation", op),
		zap.Error(err))

	event := &models.CalendarSyncFailedEvent{
		OrderID:         order.ID,
		Operation:       op,
		CalendarEventID: eventID,
		Reason:          err.Error(),
	}
	out.emit(func(ctx context.Context) { e.publishCalendarSyncFailed(ctx, event) })
}
