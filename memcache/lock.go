package memcache

// Lock holds at most one pinned Record. The zero value is ready to use.
// A Lock is owned by a single goroutine.
type Lock struct {
	cache *Cache
	rec   *Record
	gen   uint64
}

// Record returns the pinned record, or nil.
func (l *Lock) Record() *Record { return l.rec }

// Locked reports whether a record is attached.
func (l *Lock) Locked() bool { return l.rec != nil }

// Release unpins the attached record. It is a no-op on an empty Lock, so
// it is safe to defer.
func (l *Lock) Release() {
	if l.rec == nil {
		return
	}
	c, rec, gen := l.cache, l.rec, l.gen
	l.cache, l.rec, l.gen = nil, nil, 0
	c.release(rec, gen)
}
