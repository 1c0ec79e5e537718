package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mnemora/mnemora/pkg/db"
)

// Episodic context fields persisted per user. Each field carries its own
// expiry so a stale mood ages out while fresher fields survive.
var contextFields = []string{
	"emotional_state",
	"current_topic",
	"working_on",
	"last_interaction_at",
	"conversation_streak",
	"time_of_day",
	"recent_frustrations",
	"recent_successes",
}

// ContextStore persists a user's rolling episodic context as individually
// expiring fields.
type ContextStore interface {
	Set(ctx context.Context, userID, key, value string, ttl time.Duration) error
	GetAll(ctx context.Context, userID string) (map[string]string, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// ========== SQLite-backed store ==========

type dbContextStore struct {
	db *gorm.DB
}

// NewDBContextStore returns a ContextStore backed by the relational
// database.
func NewDBContextStore(database *gorm.DB) ContextStore {
	return &dbContextStore{db: database}
}

func (s *dbContextStore) Set(ctx context.Context, userID, key, value string, ttl time.Duration) error {
	now := time.Now()
	entry := &db.UserContextEntry{
		UserID:    userID,
		Key:       key,
		Value:     value,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		UpdateAll: true,
	}).Create(entry).Error
}

func (s *dbContextStore) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	var entries []db.UserContextEntry
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, time.Now()).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

func (s *dbContextStore) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&db.UserContextEntry{})
	return result.RowsAffected, result.Error
}

// ========== Redis-backed store ==========

type redisContextStore struct {
	client *redis.Client
}

// NewRedisContextStore returns a ContextStore backed by Redis. Expiry is
// delegated to Redis key TTLs.
func NewRedisContextStore(client *redis.Client) ContextStore {
	return &redisContextStore{client: client}
}

func contextKey(userID, field string) string {
	return fmt.Sprintf("episodic:%s:%s", userID, field)
}

func (s *redisContextStore) Set(ctx context.Context, userID, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, contextKey(userID, key), value, ttl).Err()
}

func (s *redisContextStore) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	keys := make([]string, len(contextFields))
	for i, field := range contextFields {
		keys[i] = contextKey(userID, field)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[string]string)
	for i, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[contextFields[i]] = str
		}
	}
	return out, nil
}

func (s *redisContextStore) CleanupExpired(ctx context.Context) (int64, error) {
	// Redis evicts expired keys on its own.
	return 0, nil
}
