package memcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/open-cradle/cradle-sub002/cachekey"
)

func readyRecord(t *testing.T, c *Cache, key cachekey.Key, size int64) {
	t.Helper()
	var lock Lock
	created, err := c.Acquire(key, &lock)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !created {
		t.Fatalf("expected new record for %s", key)
	}
	if err := c.SetReady(lock.Record(), key.Digest(), size); err != nil {
		t.Fatalf("set ready failed: %v", err)
	}
	lock.Release()
}

func TestGetOrCreateReturnsSameRecordToConcurrentCallers(t *testing.T) {
	c := New(Config{})
	key := cachekey.ID("shared")

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records = map[*Record]int{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, isNew := c.GetOrCreate(key)
			mu.Lock()
			defer mu.Unlock()
			records[rec]++
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()
	if len(records) != 1 {
		t.Fatalf("expected one record instance, got %d", len(records))
	}
	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
}

func TestLockDisciplineRejectsSecondAttach(t *testing.T) {
	c := New(Config{})
	var lock Lock
	if _, err := c.Acquire(cachekey.ID("a"), &lock); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := c.Acquire(cachekey.ID("b"), &lock); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
	rec, _ := c.GetOrCreate(cachekey.ID("b"))
	if err := c.AcquireLock(rec, &lock); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked from AcquireLock, got %v", err)
	}

	lock.Release()
	lock.Release()
	if err := c.AcquireLock(rec, &lock); err != nil {
		t.Fatalf("expected reattach after release to succeed, got %v", err)
	}
	if lock.Record() != rec {
		t.Fatalf("expected lock to hold the reattached record")
	}
}

func TestSetReadyHappensOnce(t *testing.T) {
	c := New(Config{})
	var lock Lock
	if _, err := c.Acquire(cachekey.ID("once"), &lock); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer lock.Release()
	rec := lock.Record()
	if rec.State() != StateLoading {
		t.Fatalf("expected loading record")
	}
	if err := c.SetReady(rec, "v1", 2); err != nil {
		t.Fatalf("set ready failed: %v", err)
	}
	if err := c.SetReady(rec, "v2", 2); !errors.Is(err, ErrNotLoading) {
		t.Fatalf("expected ErrNotLoading, got %v", err)
	}
	value, err := rec.Wait(context.Background())
	if err != nil || value != "v1" {
		t.Fatalf("unexpected result value=%v err=%v", value, err)
	}
	if rec.State() != StateReady {
		t.Fatalf("expected ready record")
	}
}

func TestFailEvictsAndWakesWaiters(t *testing.T) {
	c := New(Config{})
	key := cachekey.ID("flaky")
	var producer, waiter Lock
	if _, err := c.Acquire(key, &producer); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	created, err := c.Acquire(key, &waiter)
	if err != nil || created {
		t.Fatalf("expected to join existing record, created=%v err=%v", created, err)
	}

	boom := errors.New("boom")
	result := make(chan error, 1)
	go func() {
		_, err := waiter.Record().Wait(context.Background())
		result <- err
	}()
	c.Fail(producer.Record(), boom)

	select {
	case err := <-result:
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter was not woken")
	}
	producer.Release()
	waiter.Release()

	rec, created := c.GetOrCreate(key)
	if !created {
		t.Fatalf("expected failed record to be replaced")
	}
	if rec.State() != StateLoading {
		t.Fatalf("expected fresh loading record")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	c := New(Config{})
	rec, _ := c.GetOrCreate(cachekey.ID("slow"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rec.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if rec.State() != StateLoading {
		t.Fatalf("expected waiter timeout to leave record loading")
	}
}

func TestEvictionRespectsPins(t *testing.T) {
	c := New(Config{MaxUnusedEntries: 2})
	pinnedKey := cachekey.ID("pinned")
	var pinned Lock
	if _, err := c.Acquire(pinnedKey, &pinned); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := c.SetReady(pinned.Record(), "keep", 10); err != nil {
		t.Fatalf("set ready failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		readyRecord(t, c, cachekey.ID("filler", i), 10)
	}
	if pinned.Record().Evicted() {
		t.Fatalf("pinned record was evicted")
	}
	rec, created := c.GetOrCreate(pinnedKey)
	if created || rec != pinned.Record() {
		t.Fatalf("expected pinned record still reachable")
	}

	info := c.SummaryInfo()
	if info.PendingEviction != 2 {
		t.Fatalf("expected 2 unused records, got %d", info.PendingEviction)
	}
	if info.InUse != 1 {
		t.Fatalf("expected 1 in-use record, got %d", info.InUse)
	}

	pinned.Release()
	info = c.SummaryInfo()
	if info.PendingEviction != 2 {
		t.Fatalf("expected bound to hold after release, got %d", info.PendingEviction)
	}
	if _, created := c.GetOrCreate(cachekey.ID("filler", 0)); !created {
		t.Fatalf("expected oldest filler to have been evicted")
	}
}

func TestEvictionBySizeIsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{UnusedSizeLimit: 30})
	a, b, d := cachekey.ID("a"), cachekey.ID("b"), cachekey.ID("d")
	readyRecord(t, c, a, 10)
	readyRecord(t, c, b, 10)
	readyRecord(t, c, cachekey.ID("c"), 10)

	// Touch a so that b becomes the oldest.
	if _, created := c.GetOrCreate(a); created {
		t.Fatalf("expected a to be present")
	}
	readyRecord(t, c, d, 10)

	if _, created := c.GetOrCreate(a); created {
		t.Fatalf("expected recently used a to survive")
	}
	rec, created := c.GetOrCreate(b)
	if !created {
		t.Fatalf("expected b to be evicted")
	}
	c.Fail(rec, errors.New("cleanup"))
	if info := c.SummaryInfo(); info.PendingEvictionSize > 30 {
		t.Fatalf("expected unused size within limit, got %d", info.PendingEvictionSize)
	}
}

func TestAbandonRunsWhenLastPinLeavesLoadingRecord(t *testing.T) {
	c := New(Config{})
	var first, second Lock
	if _, err := c.Acquire(cachekey.ID("job"), &first); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := c.Acquire(cachekey.ID("job"), &second); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	abandoned := 0
	c.SetAbandon(first.Record(), func() { abandoned++ })
	first.Release()
	if abandoned != 0 {
		t.Fatalf("expected no abandon while another pin remains")
	}
	second.Release()
	if abandoned != 1 {
		t.Fatalf("expected abandon after last pin, got %d", abandoned)
	}
}

func TestAcquireLockOnEvictedRecordIsStale(t *testing.T) {
	c := New(Config{})
	key := cachekey.ID("gone")
	readyRecord(t, c, key, 1)
	rec, _ := c.GetOrCreate(key)
	if !c.Forget(key) {
		t.Fatalf("expected forget to evict unpinned record")
	}
	var lock Lock
	if err := c.AcquireLock(rec, &lock); !errors.Is(err, ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord, got %v", err)
	}
}

func TestResetInvalidatesOutstandingLocks(t *testing.T) {
	c := New(Config{})
	var old Lock
	if _, err := c.Acquire(cachekey.ID("x"), &old); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	oldRec := old.Record()
	c.Reset(Config{MaxUnusedEntries: 1})

	if info := c.SummaryInfo(); info.ACNumRecords != 0 {
		t.Fatalf("expected empty cache after reset, got %d records", info.ACNumRecords)
	}
	if err := c.SetReady(oldRec, "late", 1); err != nil {
		t.Fatalf("expected in-flight producer to complete, got %v", err)
	}
	old.Release()
	if info := c.SummaryInfo(); info.ACNumRecords != 0 || info.PendingEviction != 0 {
		t.Fatalf("expected stale release to leave new generation untouched: %+v", info)
	}

	readyRecord(t, c, cachekey.ID("y"), 1)
	readyRecord(t, c, cachekey.ID("z"), 1)
	if info := c.SummaryInfo(); info.PendingEviction != 1 {
		t.Fatalf("expected new bounds to apply, got %d", info.PendingEviction)
	}
}

func TestSnapshotAndClearUnused(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 3; i++ {
		readyRecord(t, c, cachekey.ID(fmt.Sprintf("k%d", i)), int64(i+1))
	}
	var lock Lock
	if _, err := c.Acquire(cachekey.ID("busy"), &lock); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer lock.Release()

	snap := c.Snapshot()
	if len(snap.InUse) != 1 || snap.InUse[0].State != StateLoading {
		t.Fatalf("unexpected in-use entries: %+v", snap.InUse)
	}
	if len(snap.PendingEviction) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(snap.PendingEviction))
	}
	if snap.PendingEviction[0].Key != cachekey.ID("k0").Digest() {
		t.Fatalf("expected oldest entry first")
	}

	c.ClearUnused()
	info := c.SummaryInfo()
	if info.PendingEviction != 0 || info.ACNumRecords != 1 {
		t.Fatalf("unexpected info after clear: %+v", info)
	}
}
