package cache

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheGetSetTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("unexpected get: val=%q ok=%v err=%v", val, ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestRedisCacheDeletePrefix(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	for i := 0; i < 450; i++ {
		if err := c.Set(ctx, fmt.Sprintf("books:list:%d", i), []byte("x"), time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := c.Set(ctx, "metadata:keep", []byte("x"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.DeletePrefix(ctx, "books:list:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "metadata:keep" {
		t.Fatalf("unexpected remaining keys: %v", keys)
	}
}

func TestRedisCacheIncrAndDelete(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "gen")
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Fatalf("incr = %d, want %d", got, want)
		}
	}
	if err := c.Delete(ctx, "gen", "absent"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "gen"); ok {
		t.Fatalf("expected gen to be deleted")
	}
}

func TestRedisCacheReportsConnectionErrors(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from closed redis")
	}
}

func TestMemoryCacheExpiryAndPrefix(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a:1", []byte("1"), time.Minute)
	_ = c.Set(ctx, "a:2", []byte("2"), 0)
	_ = c.Set(ctx, "b:1", []byte("3"), time.Minute)

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "a:1"); ok {
		t.Fatalf("expected a:1 to expire")
	}
	if _, ok, _ := c.Get(ctx, "a:2"); !ok {
		t.Fatalf("expected a:2 without ttl to persist")
	}
	_ = c.DeletePrefix(ctx, "a:")
	if _, ok, _ := c.Get(ctx, "a:2"); ok {
		t.Fatalf("expected a:2 to be deleted by prefix")
	}
	if n, _ := c.Incr(ctx, "gen"); n != 1 {
		t.Fatalf("incr = %d, want 1", n)
	}
}

func TestMemoryCacheSweepsExpiredEntriesOnWrite(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 1000 {
		_ = c.Set(ctx, "books:filter:"+strconv.Itoa(i), []byte("page"), time.Minute)
	}
	now = now.Add(2 * time.Minute)
	for i := range 1000 {
		_ = c.Set(ctx, "live:"+strconv.Itoa(i), []byte("v"), 0)
	}

	c.mu.Lock()
	held := len(c.entries)
	c.mu.Unlock()
	if held != 1000 {
		t.Fatalf("entries held = %d, want only the 1000 live keys", held)
	}
	if _, ok, _ := c.Get(ctx, "live:0"); !ok {
		t.Fatalf("expected live key to survive the sweep")
	}
}
