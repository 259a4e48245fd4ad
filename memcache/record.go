package memcache

import (
	"container/list"
	"context"

	"github.com/open-cradle/cradle-sub002/cachekey"
)

// State is the lifecycle state of a Record.
type State int

const (
	// StateLoading means the value is being produced.
	StateLoading State = iota
	// StateReady means the value is present. It is terminal until eviction.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record is a memory cache entry. All mutable fields are guarded by the
// owning cache's mutex; value and err are also safe to read once Done is closed.
type Record struct {
	cache *Cache
	key   cachekey.Key
	done  chan struct{}

	state   State
	value   any
	size    int64
	err     error
	pins    int
	evicted bool
	elem    *list.Element
	abandon func()
}

func newRecord(c *Cache, key cachekey.Key) *Record {
	return &Record{cache: c, key: key, done: make(chan struct{})}
}

// Key returns the key the record was created for.
func (r *Record) Key() cachekey.Key { return r.key }

// Done is closed when the record becomes READY or fails.
func (r *Record) Done() <-chan struct{} { return r.done }

// State returns the current state.
func (r *Record) State() State {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	return r.state
}

// Size returns the size recorded by SetReady.
func (r *Record) Size() int64 {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	return r.size
}

// Evicted reports whether the record is no longer reachable from the table.
func (r *Record) Evicted() bool {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	return r.evicted
}

// Wait suspends until the record is READY or failed, or until ctx is done.
// A waiter leaving early does not affect the computation.
func (r *Record) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.value, r.err
	default:
	}
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
