package secondary

import (
	"context"
	"errors"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubRedisClient struct {
	values  map[string][]byte
	getErr  error
	scanErr error
}

func newStubRedisClient() *stubRedisClient {
	return &stubRedisClient{values: map[string][]byte{}}
}

func (c *stubRedisClient) Get(_ context.Context, key string) *redis.StringCmd {
	if c.getErr != nil {
		return redis.NewStringResult("", c.getErr)
	}
	v, ok := c.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (c *stubRedisClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	c.values[key] = cloneBytes(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (c *stubRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(c.values, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Scan returns every match in a single page.
func (c *stubRedisClient) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	if c.scanErr != nil {
		return redis.NewScanCmdResult(nil, 0, c.scanErr)
	}
	var keys []string
	for k := range c.values {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func TestRedisStorageOperationsWithStubClient(t *testing.T) {
	ctx := context.Background()
	client := newStubRedisClient()
	client.values["other:keep"] = []byte("x")
	store, err := newRedisStorage(ctx, Config{RedisClient: client, Prefix: "pfx"})
	if err != nil {
		t.Fatalf("new redis storage failed: %v", err)
	}

	if err := store.Set(ctx, "alpha", []byte("one")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok := client.values["pfx:alpha"]; !ok {
		t.Fatalf("expected prefixed key, got %v", client.values)
	}
	body, ok, err := store.Get(ctx, "alpha")
	if err != nil || !ok || string(body) != "one" {
		t.Fatalf("unexpected get result: ok=%v err=%v body=%s", ok, err, string(body))
	}
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "alpha"); ok {
		t.Fatalf("expected flushed key to be gone")
	}
	if _, ok := client.values["other:keep"]; !ok {
		t.Fatalf("expected flush to leave other prefixes alone")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestRedisStorageErrors(t *testing.T) {
	ctx := context.Background()
	client := newStubRedisClient()
	client.getErr = errors.New("boom")
	client.scanErr = errors.New("scan boom")
	store, err := newRedisStorage(ctx, Config{RedisClient: client, Prefix: "pfx"})
	if err != nil {
		t.Fatalf("new redis storage failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error")
	}
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
}

func TestRedisStorageRequiresClientOrAddress(t *testing.T) {
	if _, err := newRedisStorage(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without client or address")
	}
}
