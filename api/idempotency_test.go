package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduperWithServer(t *testing.T) (*RedisDeduper, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m, client
}

func TestRedisDeduperAddMany(t *testing.T) {
	deduper, _, _ := newDeduperWithServer(t)
	ctx := context.Background()
	keys := []string{"k1", "k2", "k3"}

	first, err := deduper.AddMany(ctx, "user", keys)
	if err != nil {
		t.Fatalf("add many: %v", err)
	}
	for i, added := range first {
		if !added {
			t.Fatalf("expected key %d to be added", i)
		}
	}

	second, err := deduper.AddMany(ctx, "user", keys)
	if err != nil {
		t.Fatalf("second add many: %v", err)
	}
	for i, added := range second {
		if added {
			t.Fatalf("expected key %d to be duplicate on second call", i)
		}
	}

	other, err := deduper.AddMany(ctx, "someone-else", keys[:1])
	if err != nil || !other[0] {
		t.Fatalf("keys must be scoped per user: %v, %v", other, err)
	}
}

func TestRedisDeduperKeyNamespacingAndTTL(t *testing.T) {
	deduper, m, client := newDeduperWithServer(t)
	ctx := context.Background()

	if _, err := deduper.AddMany(ctx, "user", []string{"k1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	expectedKey := "user:" + dedupeKeyPrefix + ":k1"
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
	if ttl := m.TTL(expectedKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL %v", ttl)
	}
}

func TestRedisDeduperRemoveMany(t *testing.T) {
	deduper, _, _ := newDeduperWithServer(t)
	ctx := context.Background()

	if _, err := deduper.AddMany(ctx, "user", []string{"a", "b"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.RemoveMany(ctx, "user", []string{"a"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := deduper.AddMany(ctx, "user", []string{"a", "b"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added[0] || added[1] {
		t.Fatalf("unexpected results after remove: %v", added)
	}
	if err := deduper.RemoveMany(ctx, "user", nil); err != nil {
		t.Fatalf("empty remove: %v", err)
	}
}
