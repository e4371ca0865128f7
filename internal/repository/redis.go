package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"courtslot/internal/clock"
	"courtslot/internal/config"
	"courtslot/internal/domain"
	"courtslot/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisRecoveryStore keeps recovery records until their hold expires.
type RedisRecoveryStore struct {
	client *redis.Client
	clock  clock.Clock
}

var _ domain.RecoveryStore = (*RedisRecoveryStore)(nil)

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisRecoveryStore(client *redis.Client, clk clock.Clock) *RedisRecoveryStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisRecoveryStore{client: client, clock: clk}
}

func recoveryKey(bookingID string) string {
	return models.RecoveryKeyPrefix + bookingID
}

// Save stores the record with a TTL matching the remaining hold time. A
// record whose hold already passed is removed instead.
func (r *RedisRecoveryStore) Save(ctx context.Context, rec models.RecoveryRecord) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ttl := rec.TTL(r.clock.Now())
	if ttl <= 0 {
		return r.Delete(ctx, rec.BookingID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery record: %w", err)
	}
	if err := r.client.Set(ctx, recoveryKey(rec.BookingID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recovery record in redis: %w", err)
	}
	return nil
}

// Load returns nil without error when no record exists.
func (r *RedisRecoveryStore) Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, recoveryKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery record from redis: %w", err)
	}

	var rec models.RecoveryRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRecoveryStore) Delete(ctx context.Context, bookingID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, recoveryKey(bookingID)).Err(); err != nil {
		return fmt.Errorf("failed to delete recovery record from redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
