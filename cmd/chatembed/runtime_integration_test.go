//go:build integration

package main

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/chatembed/internal/config"
	"github.com/kalambet/chatembed/internal/session"
)

// Requires a reachable Redis; set CHATEMBED_TEST_REDIS_ADDR (default localhost:6379).
func TestOpenKV_RedisSessionKeys(t *testing.T) {
	addr := os.Getenv("CHATEMBED_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	rt := &runtime{cfg: config.Config{
		Storage: config.StorageConfig{Driver: "redis"},
		Redis:   config.RedisConfig{Addr: addr},
	}}
	t.Cleanup(func() { rt.Close() })

	kv, err := rt.openKV(ctx, nil)
	if err != nil {
		t.Fatalf("openKV: %v", err)
	}

	botID := "bot-" + uuid.New().String()
	key := session.Key(botID)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	session.NewStore(kv).Save(ctx, botID, "conv-1", nil)

	if n, err := client.Exists(ctx, key).Result(); err != nil || n != 1 {
		t.Errorf("Exists(%q) = %d, %v; want the session stored under its own key", key, n, err)
	}
	if n, _ := client.Exists(ctx, "chatembed:"+key).Result(); n != 0 {
		t.Errorf("session stored under a doubled prefix")
	}
}
