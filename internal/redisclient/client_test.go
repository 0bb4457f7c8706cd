package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClientWithRedis(rdb), mr
}

func TestMarkDelivered(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	first, err := c.MarkDelivered(ctx, "tg:1001", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.MarkDelivered(ctx, "tg:1001", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Hour)
	afterTTL, err := c.MarkDelivered(ctx, "tg:1001", time.Hour)
	require.NoError(t, err)
	assert.True(t, afterTTL)
}

func TestForgetDelivery(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.MarkDelivered(ctx, "tg:1002", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.ForgetDelivery(ctx, "tg:1002"))

	first, err := c.MarkDelivered(ctx, "tg:1002", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestReleaseLockRequiresOwner(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "customer:1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.AcquireLock(ctx, "customer:1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := c.ReleaseLock(ctx, "customer:1", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("lock:customer:1"))

	released, err = c.ReleaseLock(ctx, "customer:1", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:customer:1"))
}

func TestLockerSerializesHolders(t *testing.T) {
	c, _ := newTestClient(t)
	locker := NewLocker(c, time.Minute, 5*time.Second)

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "customer:9")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestLockerTimesOut(t *testing.T) {
	c, _ := newTestClient(t)
	locker := NewLocker(c, time.Minute, 60*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "customer:3")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "customer:3")
	assert.Error(t, err)
}
