package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.Guard = (*RedisGuard)(nil)

// ErrLockTimeout is returned when the key stays locked past the wait budget.
var ErrLockTimeout = errors.New("timed out waiting for dispatch lock")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuardConfig holds the lock timings.
type RedisGuardConfig struct {
	// TTL bounds how long a crashed holder can block the key.
	TTL time.Duration

	// Wait is the longest a send waits for the key before failing.
	Wait time.Duration

	// Retry is the pause between acquisition attempts.
	Retry time.Duration
}

// RedisGuard serializes sends per (client, type) across processes with a
// Redis lock: SET NX PX to acquire, compare-and-delete to release.
type RedisGuard struct {
	client *redis.Client
	log    notification.LogStore
	cfg    RedisGuardConfig
	logger *slog.Logger
}

// NewRedisClient connects to Redis with the service's settings.
func NewRedisClient(redisAddr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewRedisGuard creates a distributed keyed guard over log.
func NewRedisGuard(client *redis.Client, log notification.LogStore, cfg RedisGuardConfig, logger *slog.Logger) *RedisGuard {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 2 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}

	return &RedisGuard{
		client: client,
		log:    log,
		cfg:    cfg,
		logger: common.LoggerOrDiscard(logger).With("component", "redis_guard"),
	}
}

func lockKey(key notification.Key) string {
	return fmt.Sprintf("notifgate:dispatch:%s", key.String())
}

// Run acquires the key's lock, calls fn, and releases the lock.
func (g *RedisGuard) Run(ctx context.Context, key notification.Key, fn func(ctx context.Context, log notification.LogStore) error) error {
	token, err := newToken()
	if err != nil {
		return err
	}

	rk := lockKey(key)
	if err := g.acquire(ctx, rk, token); err != nil {
		return err
	}
	defer g.release(rk, token)

	return fn(ctx, g.log)
}

func (g *RedisGuard) acquire(ctx context.Context, rk, token string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Wait)
	defer cancel()

	ticker := time.NewTicker(g.cfg.Retry)
	defer ticker.Stop()

	for {
		ok, err := g.client.SetNX(ctx, rk, token, g.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s", ErrLockTimeout, rk)
			}
			return fmt.Errorf("acquiring dispatch lock: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrLockTimeout, rk)
		case <-ticker.C:
		}
	}
}

// release uses its own context so a cancelled request still frees the lock.
func (g *RedisGuard) release(rk, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, g.client, []string{rk}, token).Err(); err != nil {
		g.logger.Error("releasing dispatch lock failed", "key", rk, "error", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
