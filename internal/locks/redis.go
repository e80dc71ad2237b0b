package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// unlockLua deletes the lock only if it still carries the caller's token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLockerConfig holds distributed lock settings
type RedisLockerConfig struct {
	TTL           time.Duration // lock expiry if the holder dies
	Timeout       time.Duration // maximum wait before ErrContention
	RetryInterval time.Duration // SETNX poll interval while waiting
}

// RedisLocker serialises holders of the same key across service instances
// using SETNX with a TTL and a Lua conditional unlock.
type RedisLocker struct {
	client   redis.UniversalClient
	unlockSc *redis.Script
	config   RedisLockerConfig
	logger   zerolog.Logger
}

// NewRedisLocker creates a distributed locker on an existing client
func NewRedisLocker(client redis.UniversalClient, config RedisLockerConfig, logger zerolog.Logger) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client:   client,
		unlockSc: redis.NewScript(unlockLua),
		config:   config,
		logger:   logger.With().Str("component", "redis_locker").Logger(),
	}
}

func lockKey(key string) string {
	return "ledger:lock:" + key
}

// Acquire polls SETNX until the lock is taken or the wait bound expires.
// The returned release func is safe to call twice, also from different goroutines.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	waitCtx := ctx
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, lk, token, l.config.TTL).Result()
		if err == nil && ok {
			break
		}
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s held longer than %s", models.ErrContention, key, l.config.Timeout)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, token) })
	}, nil
}

func (l *RedisLocker) release(key, lk, token string) {
	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.unlockSc.Run(unlockCtx, l.client, []string{lk}, token).Err(); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
	}
}
