package worker

import (
	"context"

	"chat-order-service/internal/broker"
	"chat-order-service/internal/models"
	"chat-order-service/internal/service"
	"chat-order-service/internal/util"

	"go.uber.org/zap"
)

// MessageHandler runs one inbound message through the lifecycle engine
type MessageHandler interface {
	HandleMessage(ctx context.Context, in *models.InboundMessage) (*service.Outcome, error)
}

// InboundWorker consumes queued chat messages and feeds them to the engine
type InboundWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	engine       MessageHandler
	logger       *zap.Logger
}

// NewInboundWorker creates a new inbound message worker
func NewInboundWorker(consumer *broker.Consumer, engine MessageHandler) *InboundWorker {
	w := &InboundWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		engine:       engine,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnInboundMessage(w.handle)
	return w
}

// handle returns an error only for store failures; the consumer retries those
func (w *InboundWorker) handle(ctx context.Context, in *models.InboundMessage) error {
	out, err := w.engine.HandleMessage(ctx, in)
	if err != nil {
		w.logger.Error("Failed to handle queued message",
			zap.String("event_id", in.EventID),
			zap.String("chat_id", in.ChatID),
			zap.Error(err))
		return err
	}

	w.logger.Info("Queued message handled",
		zap.String("event_id", in.EventID),
		zap.Int64("message_id", out.MessageID),
		zap.String("intent", string(out.Intent)))
	return nil
}

// Start starts the worker
func (w *InboundWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting inbound worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *InboundWorker) Stop() error {
	w.logger.Info("Stopping inbound worker")
	return w.consumer.Close()
}
