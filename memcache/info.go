package memcache

import "sort"

// SummaryInfo describes the cache contents.
type SummaryInfo struct {
	ACNumRecords        int   `yaml:"ac_num_records"`
	InUse               int   `yaml:"in_use"`
	PendingEviction     int   `yaml:"pending_eviction"`
	TotalSize           int64 `yaml:"total_size"`
	PendingEvictionSize int64 `yaml:"pending_eviction_size"`
}

// Entry describes one record in a Snapshot.
type Entry struct {
	Key   string `yaml:"key"`
	State State  `yaml:"state"`
	Size  int64  `yaml:"size"`
}

// Snapshot lists the records that are in use (pinned or loading) and those
// pending eviction, the latter oldest first.
type Snapshot struct {
	InUse           []Entry `yaml:"in_use"`
	PendingEviction []Entry `yaml:"pending_eviction"`
}

// SummaryInfo returns record counts and sizes.
func (c *Cache) SummaryInfo() SummaryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := SummaryInfo{
		ACNumRecords:        len(c.records),
		PendingEviction:     c.unused.Len(),
		PendingEvictionSize: c.unusedSize,
	}
	info.InUse = info.ACNumRecords - info.PendingEviction
	for _, rec := range c.records {
		if rec.state == StateReady {
			info.TotalSize += rec.size
		}
	}
	return info
}

// Snapshot returns the current entries.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap Snapshot
	for _, rec := range c.records {
		if rec.elem != nil {
			continue
		}
		snap.InUse = append(snap.InUse, Entry{Key: rec.key.Digest(), State: rec.state, Size: rec.size})
	}
	sort.Slice(snap.InUse, func(i, j int) bool { return snap.InUse[i].Key < snap.InUse[j].Key })
	for e := c.unused.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		snap.PendingEviction = append(snap.PendingEviction, Entry{Key: rec.key.Digest(), State: rec.state, Size: rec.size})
	}
	return snap
}
