package secondary

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptingStorageSealsValues(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, Config{Driver: DriverMemory, EncryptionKey: testKey})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "k", []byte("secret value")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	raw, ok, err := Unwrap(store).Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("inner get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.HasPrefix(raw, encryptionMagic) || bytes.Contains(raw, []byte("secret")) {
		t.Fatalf("expected sealed payload, got %q", raw)
	}
	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(got) != "secret value" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestEncryptingStorageRejectsForeignData(t *testing.T) {
	ctx := context.Background()
	inner, err := newMemoryStorage(ctx, Config{}.withDefaults())
	if err != nil {
		t.Fatalf("new memory storage failed: %v", err)
	}
	sealed, err := newEncryptingStorage(inner, testKey)
	if err != nil {
		t.Fatalf("new encrypting storage failed: %v", err)
	}
	other, err := newEncryptingStorage(inner, []byte("fedcba9876543210fedcba9876543210"))
	if err != nil {
		t.Fatalf("new encrypting storage failed: %v", err)
	}

	if err := inner.Set(ctx, "plain", []byte("not sealed")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, _, err := sealed.Get(ctx, "plain"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for plain value, got %v", err)
	}

	if err := other.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, _, err := sealed.Get(ctx, "k"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for wrong key, got %v", err)
	}

	if _, ok, err := sealed.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestEncryptingStorageKeyLength(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: DriverMemory, EncryptionKey: []byte("short")})
	if !errors.Is(err, ErrEncryptionKey) {
		t.Fatalf("expected ErrEncryptionKey, got %v", err)
	}
	inner, _ := newNullStorage(context.Background(), Config{})
	store, err := newEncryptingStorage(inner, nil)
	if err != nil || store != inner {
		t.Fatalf("expected passthrough without key, got %T %v", store, err)
	}
}
