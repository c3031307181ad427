package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
	"notifgate/internal/infra/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "notifgate:dispatch:c-1/News", lockKey(notification.Key{ClientID: "c-1", TypeName: "News"}))
}

func TestNewToken_Unique(t *testing.T) {
	a, err := newToken()
	require.NoError(t, err)
	b, err := newToken()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestRedisGuard_UnreachableRedisSkipsFn(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewRedisGuard(rdb, nil, RedisGuardConfig{Wait: 200 * time.Millisecond}, nil)

	called := false
	err := g.Run(context.Background(), notification.Key{ClientID: "c", TypeName: "T"},
		func(context.Context, notification.LogStore) error {
			called = true
			return nil
		})

	assert.Error(t, err)
	assert.False(t, called)
}

func newMiniredisGuard(t *testing.T, log notification.LogStore, cfg RedisGuardConfig) (*miniredis.Miniredis, *RedisGuard) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisGuard(rdb, log, cfg, nil)
}

func TestRedisGuard_HoldsAndReleasesLock(t *testing.T) {
	mr, g := newMiniredisGuard(t, nil, RedisGuardConfig{TTL: 3 * time.Second})
	key := notification.Key{ClientID: "c1", TypeName: "News"}
	rk := lockKey(key)

	err := g.Run(context.Background(), key, func(context.Context, notification.LogStore) error {
		assert.True(t, mr.Exists(rk))
		assert.Equal(t, 3*time.Second, mr.TTL(rk))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(rk))
}

func TestRedisGuard_TimesOutWhileHeld(t *testing.T) {
	mr, g := newMiniredisGuard(t, nil, RedisGuardConfig{Wait: 100 * time.Millisecond, Retry: 10 * time.Millisecond})
	key := notification.Key{ClientID: "c1", TypeName: "News"}
	require.NoError(t, mr.Set(lockKey(key), "other-holder"))

	called := false
	err := g.Run(context.Background(), key, func(context.Context, notification.LogStore) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)

	got, err := mr.Get(lockKey(key))
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestRedisGuard_WaitsForHolder(t *testing.T) {
	mr, g := newMiniredisGuard(t, nil, RedisGuardConfig{Wait: 2 * time.Second, Retry: 10 * time.Millisecond})
	key := notification.Key{ClientID: "c1", TypeName: "News"}
	require.NoError(t, mr.Set(lockKey(key), "other-holder"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del(lockKey(key))
	}()

	err := g.Run(context.Background(), key, func(context.Context, notification.LogStore) error { return nil })
	assert.NoError(t, err)
}

func TestRedisGuard_ReleaseKeepsForeignLock(t *testing.T) {
	mr, g := newMiniredisGuard(t, nil, RedisGuardConfig{})
	key := notification.Key{ClientID: "c1", TypeName: "News"}
	rk := lockKey(key)

	err := g.Run(context.Background(), key, func(context.Context, notification.LogStore) error {
		// Our lock expired and another process took the key.
		return mr.Set(rk, "next-holder")
	})
	require.NoError(t, err)

	got, err := mr.Get(rk)
	require.NoError(t, err)
	assert.Equal(t, "next-holder", got)
}

func TestRedisGuard_ConcurrentSendsRespectLimit(t *testing.T) {
	const (
		n     = 20
		limit = 3
	)
	st := store.NewMemoryStore()
	_, g := newMiniredisGuard(t, st, RedisGuardConfig{Wait: 10 * time.Second, Retry: 5 * time.Millisecond})
	clients := client.NewService(st, nil, nil)
	svc := notification.NewService(st, clients, notification.Options{Guard: g})
	ctx := context.Background()

	c, err := clients.Create(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = svc.CreateType(ctx, &notification.TypeRequest{Name: "News", MaxOccurrences: limit, WindowMinutes: 60})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		sent   int
		failed []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Send(ctx, &notification.SendRequest{Type: "News", ClientID: c.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sent++
			case !errors.Is(err, common.ErrRateLimitExceeded):
				failed = append(failed, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, failed)
	assert.Equal(t, limit, sent)

	logged, err := st.CountInWindow(ctx, c.ID, "News", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, limit, logged)
}
