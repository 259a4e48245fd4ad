// Package memcache is the in-memory immutable cache. Each digest maps to one
// Record; the first caller to create a record is responsible for making it
// READY, which gives single-flight computation per digest.
package memcache

import (
	"container/list"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/cachekey"
)

var (
	// ErrAlreadyLocked is returned when a Lock that already holds a record is attached again.
	ErrAlreadyLocked = errors.New("memcache: lock already holds a record")
	// ErrStaleRecord is returned when pinning a record that has been evicted.
	ErrStaleRecord = errors.New("memcache: record was evicted")
	// ErrNotLoading is returned when completing a record that is not LOADING.
	ErrNotLoading = errors.New("memcache: record is not loading")
)

// Cache maps digests to records. Unpinned READY records are kept in LRU
// order and evicted once the configured bounds are exceeded.
type Cache struct {
	mu         sync.Mutex
	cfg        Config
	gen        uint64
	records    map[string]*Record
	unused     *list.List
	unusedSize int64
	logger     *zap.Logger
}

// New returns an empty cache.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		cfg:     cfg.withDefaults(),
		records: make(map[string]*Record),
		unused:  list.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the record for key, inserting a LOADING record when
// absent. created is true for exactly one caller per record.
func (c *Cache) GetOrCreate(key cachekey.Key) (rec *Record, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrCreateLocked(key)
}

func (c *Cache) getOrCreateLocked(key cachekey.Key) (*Record, bool) {
	d := key.Digest()
	if rec, ok := c.records[d]; ok {
		if rec.elem != nil {
			c.unused.MoveToBack(rec.elem)
		}
		return rec, false
	}
	rec := newRecord(c, key)
	c.records[d] = rec
	return rec, true
}

// AcquireLock pins rec and attaches it to lock.
func (c *Cache) AcquireLock(rec *Record, lock *Lock) error {
	if lock.rec != nil {
		return ErrAlreadyLocked
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.evicted {
		return ErrStaleRecord
	}
	c.pinLocked(rec, lock)
	return nil
}

// Acquire looks up or creates the record for key and pins it in one step.
func (c *Cache) Acquire(key cachekey.Key, lock *Lock) (created bool, err error) {
	if lock.rec != nil {
		return false, ErrAlreadyLocked
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, created := c.getOrCreateLocked(key)
	c.pinLocked(rec, lock)
	return created, nil
}

func (c *Cache) pinLocked(rec *Record, lock *Lock) {
	rec.pins++
	if rec.elem != nil {
		c.unused.Remove(rec.elem)
		rec.elem = nil
		c.unusedSize -= rec.size
	}
	lock.cache = c
	lock.rec = rec
	lock.gen = c.gen
}

func (c *Cache) release(rec *Record, gen uint64) {
	var abandon func()
	c.mu.Lock()
	rec.pins--
	if rec.pins == 0 && !rec.evicted && gen == c.gen {
		switch rec.state {
		case StateReady:
			c.markUnusedLocked(rec)
			c.reduceLocked()
		case StateLoading:
			abandon = rec.abandon
			rec.abandon = nil
		}
	}
	c.mu.Unlock()
	if abandon != nil {
		abandon()
	}
}

// SetAbandon registers fn to be called when the last pin on a LOADING record
// is released. The producer uses it to stop work nobody waits for.
func (c *Cache) SetAbandon(rec *Record, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.state == StateLoading {
		rec.abandon = fn
	}
}

// SetReady stores value and moves rec from LOADING to READY, waking waiters.
func (c *Cache) SetReady(rec *Record, value any, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.state != StateLoading || isClosed(rec.done) {
		return ErrNotLoading
	}
	rec.state = StateReady
	rec.value = value
	rec.size = size
	rec.abandon = nil
	close(rec.done)
	if !rec.evicted && rec.pins == 0 {
		c.markUnusedLocked(rec)
		c.reduceLocked()
	}
	return nil
}

// Fail evicts a LOADING record and wakes its waiters with err. A later
// GetOrCreate for the same key creates a fresh record.
func (c *Cache) Fail(rec *Record, err error) {
	if err == nil {
		err = errors.New("memcache: record failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.state != StateLoading || isClosed(rec.done) {
		return
	}
	rec.err = err
	rec.abandon = nil
	c.detachLocked(rec)
	close(rec.done)
}

// Forget evicts the unpinned READY record for key, if any.
func (c *Cache) Forget(key cachekey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.Digest()]
	if !ok || rec.elem == nil {
		return false
	}
	c.evictLocked(rec)
	return true
}

// ClearUnused evicts every unpinned READY record.
func (c *Cache) ClearUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.unused.Front(); e != nil; e = c.unused.Front() {
		c.evictLocked(e.Value.(*Record))
	}
}

// Reset drops every record and applies cfg. Locks taken before the reset no
// longer affect the cache; in-flight producers still wake their waiters.
func (c *Cache) Reset(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.records {
		rec.evicted = true
		rec.elem = nil
		rec.abandon = nil
	}
	c.records = make(map[string]*Record)
	c.unused.Init()
	c.unusedSize = 0
	c.cfg = cfg.withDefaults()
	c.gen++
}

func (c *Cache) markUnusedLocked(rec *Record) {
	rec.elem = c.unused.PushBack(rec)
	c.unusedSize += rec.size
}

func (c *Cache) reduceLocked() {
	for c.overLimitLocked() {
		front := c.unused.Front()
		if front == nil {
			return
		}
		rec := front.Value.(*Record)
		c.logger.Debug("evicting record",
			zap.String("key", rec.key.Digest()),
			zap.Int64("size", rec.size))
		c.evictLocked(rec)
	}
}

func (c *Cache) overLimitLocked() bool {
	if c.unusedSize > c.cfg.UnusedSizeLimit {
		return true
	}
	return c.cfg.MaxUnusedEntries > 0 && c.unused.Len() > c.cfg.MaxUnusedEntries
}

func (c *Cache) evictLocked(rec *Record) {
	if rec.elem != nil {
		c.unused.Remove(rec.elem)
		rec.elem = nil
		c.unusedSize -= rec.size
	}
	c.detachLocked(rec)
}

func (c *Cache) detachLocked(rec *Record) {
	if cur, ok := c.records[rec.key.Digest()]; ok && cur == rec {
		delete(c.records, rec.key.Digest())
	}
	rec.evicted = true
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
