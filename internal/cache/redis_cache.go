package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// setIfGenerationLua writes KEYS[2] only while the account generation in
// KEYS[1] still equals ARGV[1]
const setIfGenerationLua = `
local current = redis.call('GET', KEYS[1])
if (current or '0') ~= ARGV[1] then
    return 0
end
if tonumber(ARGV[3]) > 0 then
    redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
    redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`

// RedisCache caches bankroll and statistics read models in Redis.
// It is never authoritative: every entry of an account is dropped after a settlement.
//
// Each account has a generation counter that InvalidateAccount bumps. Readers
// take the generation before loading from the store and pass it to the Set
// methods, which drop the write if an invalidation happened in between.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	setSc  *redis.Script
	logger zerolog.Logger
}

// RedisCacheConfig holds Redis cache configuration
type RedisCacheConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // e.g., 5 * time.Minute
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(config RedisCacheConfig, logger zerolog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisCache{
		client: client,
		ttl:    config.TTL,
		setSc:  redis.NewScript(setIfGenerationLua),
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Client returns the underlying client so the distributed locker can share it
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func accountPrefix(accountID uuid.UUID) string {
	return fmt.Sprintf("ledger:%s:", accountID)
}

func generationKey(accountID uuid.UUID) string {
	return fmt.Sprintf("ledger-gen:%s", accountID)
}

func bankrollKey(accountID uuid.UUID) string {
	return accountPrefix(accountID) + "bankroll"
}

func statisticsKey(accountID uuid.UUID, filterKey string) string {
	return accountPrefix(accountID) + "stats:" + filterKey
}

// Generation returns the account's current invalidation generation
func (c *RedisCache) Generation(ctx context.Context, accountID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(accountID)).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to get generation: %w", err)
	}
	return gen, nil
}

// SetBankroll caches a bankroll status read at generation gen
func (c *RedisCache) SetBankroll(ctx context.Context, status *models.BankrollStatus, gen int64) error {
	return c.set(ctx, status.AccountID, bankrollKey(status.AccountID), status, gen)
}

// GetBankroll retrieves a cached bankroll status
func (c *RedisCache) GetBankroll(ctx context.Context, accountID uuid.UUID) (*models.BankrollStatus, error) {
	var status models.BankrollStatus
	if err := c.get(ctx, bankrollKey(accountID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetStatistics caches a statistics snapshot for one filter, read at generation gen
func (c *RedisCache) SetStatistics(ctx context.Context, accountID uuid.UUID, filterKey string, snap *models.StatisticsSnapshot, gen int64) error {
	return c.set(ctx, accountID, statisticsKey(accountID, filterKey), snap, gen)
}

// GetStatistics retrieves a cached statistics snapshot for one filter
func (c *RedisCache) GetStatistics(ctx context.Context, accountID uuid.UUID, filterKey string) (*models.StatisticsSnapshot, error) {
	var snap models.StatisticsSnapshot
	if err := c.get(ctx, statisticsKey(accountID, filterKey), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// InvalidateAccount bumps the account generation, then removes every cached
// entry of the account
func (c *RedisCache) InvalidateAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := c.client.Incr(ctx, generationKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}

	pattern := accountPrefix(accountID) + "*"

	// Scan for keys matching pattern
	var cursor uint64
	var keys []string

	for {
		var scanKeys []string
		var err error
		scanKeys, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, scanKeys...)

		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil
	}

	// Use pipeline for batch operations
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}

	c.logger.Debug().
		Str("account_id", accountID.String()).
		Int("count", len(keys)).
		Msg("invalidated cached read models")

	return nil
}

func (c *RedisCache) set(ctx context.Context, accountID uuid.UUID, key string, value any, gen int64) error {
	// Serialize to JSON
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	// Set in Redis with TTL unless the account was invalidated since gen
	stored, err := c.setSc.Run(ctx, c.client,
		[]string{generationKey(accountID), key},
		strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}

	if stored == 0 {
		c.logger.Debug().
			Str("key", key).
			Int64("generation", gen).
			Msg("skipped caching read model loaded before an invalidation")
		return nil
	}

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", c.ttl).
		Msg("cached read model")

	return nil
}

func (c *RedisCache) get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	} else if err != nil {
		return fmt.Errorf("failed to get from Redis: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Ping checks Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
