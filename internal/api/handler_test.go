package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-order-service/internal/classifier"
	"chat-order-service/internal/models"
	"chat-order-service/internal/service"
	"chat-order-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	handled   []*models.InboundMessage
	handleErr error
	orders    map[int64]*models.Order
	completed []int64
}

func (f *fakeEngine) HandleMessage(_ context.Context, in *models.InboundMessage) (*service.Outcome, error) {
	f.handled = append(f.handled, in)
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	return &service.Outcome{MessageID: 11, Intent: classifier.IntentUnknown}, nil
}

func (f *fakeEngine) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeEngine) CompleteOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if o.Status != models.OrderStatusConfirmed {
		return nil, service.ErrNotActionable
	}
	f.completed = append(f.completed, id)
	o.Status = models.OrderStatusCompleted
	return o, nil
}

func (f *fakeEngine) ListUnprocessedMessages(_ context.Context, limit int) ([]models.RawMessage, error) {
	return []models.RawMessage{{ID: 5, Text: "pesan"}}, nil
}

func (f *fakeEngine) ReprocessMessage(_ context.Context, id int64) (*service.Outcome, error) {
	if id == 5 {
		return &service.Outcome{MessageID: 5, Intent: classifier.IntentNewOrder, OrderIDs: []int64{9}}, nil
	}
	return nil, service.ErrAlreadyProcessed
}

type memDeliveries struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memDeliveries) MarkDelivered(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memDeliveries) ForgetDelivery(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type fakeQueue struct {
	published []*models.InboundMessage
	err       error
}

func (q *fakeQueue) PublishInboundMessage(_ context.Context, msg *models.InboundMessage) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, msg)
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.SetupRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const update = `{"update_id":100,"message":{"message_id":1,"chat":{"id":1001},"from":{"first_name":"Bella"},"text":"pesan 2 kue"}}`

func TestTelegramWebhookSyncMode(t *testing.T) {
	engine := &fakeEngine{}
	deliveries := &memDeliveries{seen: map[string]bool{}}
	r := newRouter(NewHandler(engine, deliveries, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodPost, "/webhook/telegram", update, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.handled, 1)

	in := engine.handled[0]
	assert.Equal(t, models.PlatformTelegram, in.Platform)
	assert.Equal(t, "1001", in.ChatID)
	assert.Equal(t, "Bella", in.SenderName)
	assert.Equal(t, "pesan 2 kue", in.Text)
	assert.JSONEq(t, update, string(in.RawPayload))

	// redelivery of the same update is dropped
	w = do(r, http.MethodPost, "/webhook/telegram", update, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
	assert.Len(t, engine.handled, 1)
}

func TestTelegramWebhookDefaultsSenderName(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(NewHandler(engine, &memDeliveries{seen: map[string]bool{}}, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodPost, "/webhook/telegram", `{"update_id":7,"message":{"chat":{"id":5},"text":"cek"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.handled, 1)
	assert.Equal(t, "Unknown Owner", engine.handled[0].SenderName)
}

func TestTelegramWebhookIgnoresNonMessageUpdates(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(NewHandler(engine, &memDeliveries{seen: map[string]bool{}}, nil, nil, HandlerConfig{}))

	for _, body := range []string{
		`{"update_id":1,"edited_message":{"chat":{"id":5},"text":"x"}}`,
		`{"update_id":2,"message":{"text":"no chat"}}`,
		`{"update_id":3,"message":{"chat":{"id":5},"sticker":{}}}`,
	} {
		w := do(r, http.MethodPost, "/webhook/telegram", body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ignored")
	}
	assert.Empty(t, engine.handled)

	w := do(r, http.MethodPost, "/webhook/telegram", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTelegramWebhookSecret(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(NewHandler(engine, &memDeliveries{seen: map[string]bool{}}, nil, nil, HandlerConfig{WebhookSecret: "s3cret"}))

	w := do(r, http.MethodPost, "/webhook/telegram", update, map[string]string{telegramSecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/webhook/telegram", update, map[string]string{telegramSecretHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, engine.handled, 1)
}

func TestTelegramWebhookStoreFailureAllowsRetry(t *testing.T) {
	engine := &fakeEngine{handleErr: errors.New("database unavailable")}
	deliveries := &memDeliveries{seen: map[string]bool{}}
	r := newRouter(NewHandler(engine, deliveries, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodPost, "/webhook/telegram", update, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	engine.handleErr = nil
	w = do(r, http.MethodPost, "/webhook/telegram", update, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, engine.handled, 2)
}

func TestTelegramWebhookQueueMode(t *testing.T) {
	engine := &fakeEngine{}
	queue := &fakeQueue{}
	r := newRouter(NewHandler(engine, &memDeliveries{seen: map[string]bool{}}, queue, nil, HandlerConfig{QueueMode: true}))

	w := do(r, http.MethodPost, "/webhook/telegram", update, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queued")
	require.Len(t, queue.published, 1)
	assert.Equal(t, models.EventTypeInboundMessage, queue.published[0].EventType)
	assert.Empty(t, engine.handled)
}

func TestTelegramWebhookDedupeFailsOpen(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(NewHandler(engine, &memDeliveries{err: errors.New("redis down")}, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodPost, "/webhook/telegram", update, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, engine.handled, 1)
}

func TestAdminOrderEndpoints(t *testing.T) {
	engine := &fakeEngine{orders: map[int64]*models.Order{
		7: {ID: 7, Status: models.OrderStatusConfirmed},
		8: {ID: 8, Status: models.OrderStatusPending},
	}}
	r := newRouter(NewHandler(engine, &memDeliveries{seen: map[string]bool{}}, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodGet, "/api/v1/orders/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.Order.ID)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/orders/99", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/orders/abc", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/orders/0", "", nil).Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/orders/7/complete", "", nil).Code)
	assert.Equal(t, []int64{7}, engine.completed)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/orders/8/complete", "", nil).Code)
}

func TestAdminMessageEndpoints(t *testing.T) {
	r := newRouter(NewHandler(&fakeEngine{}, &memDeliveries{seen: map[string]bool{}}, nil, nil, HandlerConfig{}))

	w := do(r, http.MethodGet, "/api/v1/messages/unprocessed?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/messages/unprocessed?limit=9999", "", nil).Code)

	w = do(r, http.MethodPost, "/api/v1/messages/5/reprocess", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order_ids":[9]`)

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/messages/6/reprocess", "", nil).Code)
}

func TestReadinessCheck(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	r := newRouter(NewHandler(&fakeEngine{}, &memDeliveries{}, nil, map[string]Pinger{"postgres": healthy, "redis": healthy}, HandlerConfig{}))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", "", nil).Code)

	r = newRouter(NewHandler(&fakeEngine{}, &memDeliveries{}, nil, map[string]Pinger{"postgres": healthy, "redis": down}, HandlerConfig{}))
	w := do(r, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}
