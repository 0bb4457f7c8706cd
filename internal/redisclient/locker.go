package redisclient

import (
	"context"
	"fmt"
	"time"

	"chat-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker provides cross-instance mutual exclusion per key on top of Client.
// The TTL bounds how long a crashed holder can block others.
type Locker struct {
	client   *Client
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewLocker creates a new distributed locker
func NewLocker(client *Client, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &Locker{
		client:   client,
		ttl:      ttl,
		wait:     wait,
		interval: 25 * time.Millisecond,
		logger:   util.GetLogger(),
	}
}

// Lock blocks until key is acquired, the wait budget is spent or ctx is done
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	start := time.Now()
	deadline := start.Add(l.wait)

	for {
		ok, err := l.client.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			util.LockWaitLatency.Observe(time.Since(start).Seconds())
			return func() { l.release(key, token) }, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lock %s: timed out after %s", key, l.wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	released, err := l.client.ReleaseLock(ctx, key, token)
	if err != nil {
		l.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
		return
	}
	if !released {
		l.logger.Warn("Lock expired before release", zap.String("key", key))
	}
}
