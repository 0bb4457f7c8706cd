package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-order-service/internal/models"
	"chat-order-service/internal/service"
	"chat-order-service/internal/store"
	"chat-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine is the lifecycle engine surface used by the HTTP layer
type Engine interface {
	HandleMessage(ctx context.Context, in *models.InboundMessage) (*service.Outcome, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	CompleteOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListUnprocessedMessages(ctx context.Context, limit int) ([]models.RawMessage, error)
	ReprocessMessage(ctx context.Context, messageID int64) (*service.Outcome, error)
}

// DeliveryTracker drops repeated webhook deliveries
type DeliveryTracker interface {
	MarkDelivered(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetDelivery(ctx context.Context, key string) error
}

// InboundQueue hands messages to the inbound worker in queue mode
type InboundQueue interface {
	PublishInboundMessage(ctx context.Context, msg *models.InboundMessage) error
}

// Pinger reports dependency health
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig holds dispatcher settings
type HandlerConfig struct {
	QueueMode     bool
	WebhookSecret string
	DedupeTTL     time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	engine     Engine
	deliveries DeliveryTracker
	queue      InboundQueue
	checks     map[string]Pinger
	cfg        HandlerConfig
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. queue may be nil unless cfg.QueueMode is set.
func NewHandler(engine Engine, deliveries DeliveryTracker, queue InboundQueue, checks map[string]Pinger, cfg HandlerConfig) *Handler {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &Handler{
		engine:     engine,
		deliveries: deliveries,
		queue:      queue,
		checks:     checks,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook/telegram", h.telegramWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.GET("/messages/unprocessed", h.listUnprocessed)
		v1.POST("/messages/:id/reprocess", h.reprocessMessage)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// telegramWebhook is the ingestion dispatcher for Telegram updates. A non-2xx
// answer makes Telegram redeliver, so it is only returned when the message
// was not durably handled.
func (h *Handler) telegramWebhook(c *gin.Context) {
	if h.cfg.WebhookSecret != "" {
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret token"})
			return
		}
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	msg, key, ok, err := normalizeTelegram(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	first, err := h.deliveries.MarkDelivered(ctx, key, h.cfg.DedupeTTL)
	if err != nil {
		// fail open: the per-customer lock still guards the lifecycle
		h.logger.Warn("Delivery de-duplication unavailable", zap.String("key", key), zap.Error(err))
		first = true
	}
	if !first {
		util.DuplicateDeliveriesTotal.Inc()
		h.logger.Info("Duplicate delivery dropped", zap.String("key", key))
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if h.cfg.QueueMode {
		if err := h.queue.PublishInboundMessage(ctx, msg); err != nil {
			h.abortDelivery(c, key, "Failed to queue message", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
		return
	}

	out, err := h.engine.HandleMessage(ctx, msg)
	if err != nil {
		h.abortDelivery(c, key, "Failed to process message", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"message_id": out.MessageID,
		"intent":     out.Intent,
	})
}

// abortDelivery forgets the delivery key so the platform's retry is accepted
func (h *Handler) abortDelivery(c *gin.Context, key, reason string, err error) {
	h.logger.Error(reason, zap.String("key", key), zap.Error(err))
	if ferr := h.deliveries.ForgetDelivery(context.Background(), key); ferr != nil {
		h.logger.Error("Failed to forget delivery", zap.String("key", key), zap.Error(ferr))
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": reason})
}

type idParam struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}

type listQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	var p idParam
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.engine.GetOrder(c.Request.Context(), p.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// completeOrder marks a confirmed order as delivered
func (h *Handler) completeOrder(c *gin.Context) {
	var p idParam
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.engine.CompleteOrder(c.Request.Context(), p.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// listUnprocessed lists raw messages that still await processing
func (h *Handler) listUnprocessed(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid query",
			"details": err.Error(),
		})
		return
	}

	messages, err := h.engine.ListUnprocessedMessages(c.Request.Context(), q.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// reprocessMessage re-runs the lifecycle for an unprocessed message
func (h *Handler) reprocessMessage(c *gin.Context) {
	var p idParam
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	out, err := h.engine.ReprocessMessage(c.Request.Context(), p.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrNotActionable), errors.Is(err, service.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Conflict",
			"details": err.Error(),
		})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
