// Package secondarytest provides a reusable contract suite for
// secondary.Storage implementations.
//
// Example pattern:
//
//	func TestRedisStorageContract(t *testing.T) {
//		store, err := secondary.New(ctx, secondary.Config{Driver: secondary.DriverRedis, RedisClient: client})
//		if err != nil {
//			t.Fatalf("new redis storage: %v", err)
//		}
//		t.Cleanup(func() { _ = store.Close() })
//		secondarytest.RunStorageContract(t, store, secondarytest.Options{})
//	}
package secondarytest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/open-cradle/cradle-sub002/secondary"
)

// Options configures the contract checks.
type Options struct {
	// CaseName namespaces keys. Defaults to t.Name().
	CaseName string
	// NullSemantics expects every lookup to miss.
	NullSemantics bool
	// SkipCloneCheck disables the "get returns an independent copy" assertion.
	SkipCloneCheck bool
	// SkipFlush disables the flush assertion for backends that cannot flush.
	SkipFlush bool
	// LargeValueSize is the size of the large value round trip. Defaults to 64 KiB.
	LargeValueSize int
}

// RunStorageContract runs a backend-agnostic storage contract suite.
func RunStorageContract(t *testing.T, store secondary.Storage, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	largeSize := opts.LargeValueSize
	if largeSize <= 0 {
		largeSize = 64 << 10
	}

	ctx := context.Background()
	key := func(s string) string {
		sum := sha256.Sum256([]byte(caseName + "/" + s))
		return hex.EncodeToString(sum[:])
	}

	// Miss on an unknown key.
	if body, ok, err := store.Get(ctx, key("missing")); err != nil || ok {
		t.Fatalf("expected miss for unknown key: ok=%v body=%q err=%v", ok, body, err)
	}

	// Set/Get round-trip.
	if err := store.Set(ctx, key("alpha"), []byte("value")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, key("alpha"))
	if err != nil {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if opts.NullSemantics {
		if ok {
			t.Fatalf("expected miss for null semantics")
		}
		return
	}
	if !ok || string(body) != "value" {
		t.Fatalf("unexpected get result: ok=%v body=%q", ok, string(body))
	}
	if !opts.SkipCloneCheck {
		body[0] = 'X'
		body2, ok2, err2 := store.Get(ctx, key("alpha"))
		if err2 != nil || !ok2 || string(body2) != "value" {
			t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
		}
	}

	// Overwrite replaces the value.
	if err := store.Set(ctx, key("alpha"), []byte("other")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if body, ok, err := store.Get(ctx, key("alpha")); err != nil || !ok || string(body) != "other" {
		t.Fatalf("expected overwritten value, got ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Two keys sharing one value.
	if err := store.Set(ctx, key("beta"), []byte("other")); err != nil {
		t.Fatalf("set shared value failed: %v", err)
	}
	if body, ok, err := store.Get(ctx, key("beta")); err != nil || !ok || string(body) != "other" {
		t.Fatalf("expected shared value, got ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Empty and large values.
	if err := store.Set(ctx, key("empty"), []byte{}); err != nil {
		t.Fatalf("set empty failed: %v", err)
	}
	if body, ok, err := store.Get(ctx, key("empty")); err != nil || !ok || len(body) != 0 {
		t.Fatalf("expected empty value, got ok=%v len=%d err=%v", ok, len(body), err)
	}
	large := bytes.Repeat([]byte(strings.Repeat("0123456789abcdef", 4)), largeSize/64)
	if err := store.Set(ctx, key("large"), large); err != nil {
		t.Fatalf("set large failed: %v", err)
	}
	if body, ok, err := store.Get(ctx, key("large")); err != nil || !ok || !bytes.Equal(body, large) {
		t.Fatalf("expected large value round trip, got ok=%v len=%d err=%v", ok, len(body), err)
	}

	// Flush.
	if !opts.SkipFlush {
		if err := store.Flush(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
		for _, k := range []string{"alpha", "beta", "large"} {
			if _, ok, err := store.Get(ctx, key(k)); err != nil || ok {
				t.Fatalf("expected flush to clear %s; ok=%v err=%v", k, ok, err)
			}
		}
	}
}
