package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChecksKey = "scaffold:checks"

// RedisOptions configures the Redis-backed check store.
type RedisOptions struct {
	// URL is the Redis connection string (e.g. "redis://localhost:6379")
	URL string

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// RedisStore keeps check records in a Redis list, newest first.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity with a ping.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Create persists a new record at the head of the list.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrInvalidRecord
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal record: %w", err)
	}
	if err := s.client.LPush(ctx, redisChecksKey, data).Err(); err != nil {
		return fmt.Errorf("repository: failed to store record: %w", err)
	}
	return nil
}

// Count returns the total number of recorded checks.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, redisChecksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("repository: failed to count records: %w", err)
	}
	return n, nil
}

// Recent returns up to limit records, most recent first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1 // full range
	}
	vals, err := s.client.LRange(ctx, redisChecksKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to read records: %w", err)
	}
	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// Skip invalid entries
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
