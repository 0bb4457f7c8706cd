package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chat-order-service/internal/models"
	"chat-order-service/internal/util"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrUnavailable wraps every transport or API failure of the calendar
var ErrUnavailable = errors.New("calendar unavailable")

// Config holds the calendar adapter settings
type Config struct {
	CalendarID      string
	CredentialsFile string
	TimeZone        string
	EventDuration   time.Duration
}

// GoogleCalendar creates and deletes one event per confirmed order
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	timeZone   string
	duration   time.Duration
	logger     *zap.Logger
}

// NewGoogleCalendar builds the adapter. Extra client options are appended
// after the credentials option.
func NewGoogleCalendar(ctx context.Context, cfg Config, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.EventDuration <= 0 {
		cfg.EventDuration = time.Hour
	}

	clientOpts := []option.ClientOption{option.WithScopes(gcal.CalendarScope)}
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleCalendar{
		svc:        svc,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		duration:   cfg.EventDuration,
		logger:     util.GetLogger(),
	}, nil
}

// CreateEvent inserts an event for the order's due date and returns its id
func (g *GoogleCalendar) CreateEvent(ctx context.Context, order *models.Order) (string, error) {
	if order.DueDate == nil {
		return "", fmt.Errorf("order %d has no due date", order.ID)
	}

	start := *order.DueDate
	end := start.Add(g.duration)

	event := &gcal.Event{
		Summary: fmt.Sprintf("%s - %s", order.ClientName, order.ItemDescription),
		Description: fmt.Sprintf("Order #%d\nClient: %s\nItem: %s\nQty: %d\nPrice: %s",
			order.ID, order.ClientName, order.ItemDescription, order.Quantity, util.FormatRupiah(order.Price)),
		Start: &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: g.timeZone},
		End:   &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: g.timeZone},
	}

	created, err := g.svc.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: insert event: %v", ErrUnavailable, err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("%w: insert returned no event id", ErrUnavailable)
	}

	g.logger.Info("Calendar event created",
		zap.Int64("order_id", order.ID),
		zap.String("event_id", created.Id),
		zap.String("link", created.HtmlLink))
	return created.Id, nil
}

// DeleteEvent removes an event. An event that is already gone counts as deleted.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			g.logger.Info("Calendar event already removed", zap.String("event_id", eventID))
			return nil
		}
		return fmt.Errorf("%w: delete event: %v", ErrUnavailable, err)
	}

	g.logger.Info("Calendar event deleted", zap.String("event_id", eventID))
	return nil
}
