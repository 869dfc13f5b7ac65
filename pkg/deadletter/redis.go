package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis dead letter backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Key is the list the records are pushed onto
	Key string

	// MaxLen trims the list to the newest MaxLen records (0 = unlimited)
	MaxLen int64

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Key:      "eventpipe:dead_letters",
		MaxLen:   100000,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisStore pushes records onto a Redis list, newest last.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Key == "" {
		cfg.Key = "eventpipe:dead_letters"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

// Write appends one record to the list, trimming to MaxLen.
func (s *RedisStore) Write(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dead letter record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.cfg.Key, data)
	if s.cfg.MaxLen > 0 {
		pipe.LTrim(ctx, s.cfg.Key, -s.cfg.MaxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter record: %w", err)
	}
	return nil
}

// Len returns the number of records currently on the list.
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.LLen(ctx, s.cfg.Key).Result()
}

// Range reads records from the list without removing them.
func (s *RedisStore) Range(ctx context.Context, start, stop int64) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, s.cfg.Key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letter records: %w", err)
	}
	out := make([]*Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue // skip records written by incompatible versions
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Name returns "redis".
func (s *RedisStore) Name() string { return "redis" }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
