package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestGetStateReportsUnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := NewWithClient(client)
	defer cache.Close()

	_, err := cache.GetState(context.Background(), "f-1")
	if err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
	if errors.Is(err, ErrMiss) {
		t.Fatalf("transport failure must not look like a miss")
	}
}
