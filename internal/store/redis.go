package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stock_reserve/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a best-effort read cache for reservation records. The
// database is always authoritative; cache entries carry a TTL equal to the
// reservation's remaining lifetime so stale entries age out on their own.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return nil
}

func reservationKey(id string) string {
	return fmt.Sprintf("reservation:%s", id)
}

func (s *RedisStore) StoreReservation(ctx context.Context, res *models.Reservation, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := s.Client.Set(ctx, reservationKey(res.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set reservation in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	val, err := s.Client.Get(ctx, reservationKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation from redis: %w", err)
	}

	var res models.Reservation
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservation from redis: %w", err)
	}
	return &res, nil
}

func (s *RedisStore) DeleteReservation(ctx context.Context, id string) error {
	if err := s.Client.Del(ctx, reservationKey(id)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to delete reservation from redis: %w", err)
	}
	return nil
}
