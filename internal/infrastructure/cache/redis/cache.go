package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

const keyPrefix = "annotation:state:"

// ErrMiss is returned when no state is cached for a file.
var ErrMiss = errors.New("state cache miss")

// StateCache remembers terminal processing states so that duplicate triggers
// can be dropped without a database round trip. The repository stays the
// source of truth.
type StateCache struct {
	client *goredis.Client
}

func New(ctx context.Context, addr, password string, db int) (*StateCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &StateCache{client: client}, nil
}

func NewWithClient(client *goredis.Client) *StateCache {
	return &StateCache{client: client}
}

func (c *StateCache) Close() error {
	return c.client.Close()
}

func (c *StateCache) GetState(ctx context.Context, fileID string) (domain.ProcessingState, error) {
	value, err := c.client.Get(ctx, keyPrefix+fileID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("get cached state: %w", err)
	}
	return domain.ProcessingState(value), nil
}

func (c *StateCache) SetState(ctx context.Context, fileID string, state domain.ProcessingState, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+fileID, string(state), ttl).Err(); err != nil {
		return fmt.Errorf("set cached state: %w", err)
	}
	return nil
}
