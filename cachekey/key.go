// Package cachekey provides the identity type the caches are keyed on.
package cachekey

import (
	"strings"
	"sync"

	"github.com/open-cradle/cradle-sub002/digest"
)

// Captured is anything that can act as a cache key.
type Captured interface {
	digest.Hashable
}

type captured struct {
	value  Captured
	once   sync.Once
	digest string
}

// Key wraps a captured request or identifier. Copies share the lazily computed
// digest. Equality and ordering depend only on the digest.
type Key struct {
	c *captured
}

// New captures value as a Key.
func New(value Captured) Key {
	return Key{c: &captured{value: value}}
}

// FromDigest builds a Key from an already computed digest, e.g. one received
// from another process.
func FromDigest(d string) Key {
	k := Key{c: &captured{}}
	k.c.once.Do(func() {})
	k.c.digest = d
	return k
}

// Digest returns the content digest, computing it on first use.
func (k Key) Digest() string {
	if k.c == nil {
		return ""
	}
	k.c.once.Do(func() {
		h := digest.New()
		h.Update(k.c.value)
		k.c.digest = h.String()
	})
	return k.c.digest
}

// Value returns the captured value, or nil for digest-only keys.
func (k Key) Value() Captured {
	if k.c == nil {
		return nil
	}
	return k.c.value
}

// IsZero reports whether k was never assigned.
func (k Key) IsZero() bool { return k.c == nil }

// Equal reports whether both keys have the same digest.
func (k Key) Equal(other Key) bool {
	return k.Digest() == other.Digest()
}

// Compare orders keys by digest.
func (k Key) Compare(other Key) int {
	return strings.Compare(k.Digest(), other.Digest())
}

func (k Key) String() string { return k.Digest() }

// Identifier is a captured plain identifier.
type Identifier struct {
	Parts []any
}

// HashTo implements digest.Hashable.
func (id Identifier) HashTo(h *digest.Hasher) {
	h.Update("id")
	h.Update(id.Parts)
}

// ID returns a Key for a plain identifier made of parts.
func ID(parts ...any) Key {
	return New(Identifier{Parts: parts})
}
