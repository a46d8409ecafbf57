package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/engine"
)

const (
	sessionKeyPrefix   = "story:session:"
	userSessionsPrefix = "story:user:"
	userSessionsSuffix = ":sessions"
	defaultSessionTTL  = 24 * time.Hour
	maxRecentPerUser   = 50
)

// RedisStore keeps session checkpoints so a session survives a restart.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisStoreFromClient(client, cfg.SessionTTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userID string) string {
	return userSessionsPrefix + userID + userSessionsSuffix
}

// SaveSnapshot stores the snapshot and records it in the user's recent list.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(snap.ID), data, s.ttl)
	if userID := snap.Request.UserID; userID != "" {
		key := userSessionsKey(userID)
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(snap.UpdatedAt.Unix()), Member: snap.ID})
		pipe.ZRemRangeByRank(ctx, key, 0, -(maxRecentPerUser + 1))
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns nil, nil when the session is unknown or expired.
func (s *RedisStore) LoadSnapshot(ctx context.Context, id string) (*engine.Snapshot, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the checkpoint of a session.
func (s *RedisStore) DeleteSnapshot(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

// RecentSessions returns the newest session ids of a user that still have
// a checkpoint.
func (s *RedisStore) RecentSessions(ctx context.Context, userID string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.client.ZRevRange(ctx, userSessionsKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check session: %w", err)
		}
		if n > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

var _ engine.Checkpointer = (*RedisStore)(nil)
