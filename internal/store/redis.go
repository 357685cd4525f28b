// This file implements a Redis-backed session store with native key expiry.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// RedisKeyPrefix namespaces session keys.
const RedisKeyPrefix = "session:"

// RedisDeliveryPrefix namespaces inbound delivery ids.
const RedisDeliveryPrefix = "delivery:"

// minRedisTTL keeps SET from being issued with a zero or negative expiry.
const minRedisTTL = time.Second

// RedisStore keeps each session as a JSON string under session:<userID>.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	now       func() time.Time
	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to the Redis server named by WithRedisURL.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", redisOpts.Addr)
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("Connected to Redis", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return &RedisStore{client: client, ttl: cfg.TTL, now: cfg.Now}, nil
}

func redisKey(userID string) string {
	return RedisKeyPrefix + userID
}

func (r *RedisStore) Get(ctx context.Context, userID string) (models.Session, error) {
	raw, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		slog.Debug("RedisStore Get miss", "userID", userID)
		return models.NewSession(r.now()), nil
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "userID", userID)
		return models.Session{}, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		slog.Error("RedisStore Get decode failed", "error", err, "userID", userID)
		return models.Session{}, err
	}
	return s, nil
}

// Set writes the session with the expiry left over from its creation time.
func (r *RedisStore) Set(ctx context.Context, userID string, s models.Session) error {
	now := r.now()
	s = prepare(s, now)
	raw, err := encodeSession(s)
	if err != nil {
		return err
	}
	ttl := expiresAt(s, r.ttl).Sub(now)
	if ttl < minRedisTTL {
		ttl = minRedisTTL
	}
	if err := r.client.Set(ctx, redisKey(userID), raw, ttl).Err(); err != nil {
		slog.Error("RedisStore Set failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save session for %s: %w", userID, err)
	}
	slog.Debug("RedisStore Set succeeded", "userID", userID, "state", s.State, "ttl", ttl)
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		slog.Error("RedisStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ListByState scans every session key; meant for startup recovery, not hot paths.
func (r *RedisStore) ListByState(ctx context.Context, state models.State) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		s, err := decodeSession(raw)
		if err != nil {
			slog.Warn("RedisStore ListByState skipping undecodable session", "key", key, "error", err)
			continue
		}
		if s.State == state {
			ids = append(ids, key[len(RedisKeyPrefix):])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return ids, nil
}

func (r *RedisStore) CountActive(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return n, nil
}

// RecordDelivery uses SETNX so concurrent redeliveries race safely; the key
// expires after the retention window.
func (r *RedisStore) RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, RedisDeliveryPrefix+deliveryID, userID, DefaultDedupRetention).Result()
	if err != nil {
		slog.Error("RedisStore RecordDelivery failed", "error", err, "deliveryID", deliveryID)
		return false, fmt.Errorf("record delivery failed: %w", err)
	}
	return ok, nil
}

// Close closes the Redis connection pool.
func (r *RedisStore) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.client.Close()
		if r.closeErr != nil {
			slog.Error("Failed to close Redis client", "error", r.closeErr)
		}
	})
	return r.closeErr
}
