package secondary

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	usageBacklogLimit = 10
	usageIdleDelay    = time.Second
)

// run is the disk cache worker. It flushes usage on every tick when there is
// enough backlog or the cache has gone idle, and sweeps when Set asks for it.
func (s *diskStorage) run() {
	defer close(s.finished)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			s.flushUsage(ctx, true)
			return
		case <-s.sweep:
			s.flushUsage(ctx, true)
			s.enforceSizeLimit(ctx)
		case <-ticker.C:
			s.flushUsage(ctx, false)
		}
	}
}

func (s *diskStorage) shouldFlushUsageLocked(now time.Time) bool {
	if len(s.pendingUsage) == 0 {
		return false
	}
	if len(s.pendingUsage) >= usageBacklogLimit {
		return true
	}
	return now.Sub(s.latestActivity) > usageIdleDelay
}

// flushUsage writes pending last-access times to the index.
func (s *diskStorage) flushUsage(ctx context.Context, forced bool) {
	now := time.Now()
	s.mu.Lock()
	if len(s.pendingUsage) == 0 || (!forced && !s.shouldFlushUsageLocked(now)) {
		s.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(s.pendingUsage))
	for id := range s.pendingUsage {
		ids = append(ids, id)
	}
	s.pendingUsage = make(map[int64]struct{})
	s.mu.Unlock()

	if err := s.index.touch(ctx, ids, now); err != nil {
		s.logger.Error("flush usage", zap.Int("entries", len(ids)), zap.Error(err))
	}
}

// enforceSizeLimit removes least recently used entries until the total CAS
// size is within the limit.
func (s *diskStorage) enforceSizeLimit(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.bytesSinceSweep = 0
		s.mu.Unlock()
	}()

	size, err := s.index.totalSize(ctx)
	if err != nil {
		s.logger.Error("read total size", zap.Error(err))
		return
	}
	if size <= s.sizeLimit {
		return
	}
	entries, err := s.index.lruEntries(ctx)
	if err != nil {
		s.logger.Error("list lru entries", zap.Error(err))
		return
	}
	removed := 0
	for _, e := range entries {
		if err := s.index.removeAction(ctx, e.acID); err != nil {
			s.logger.Error("remove action entry", zap.Int64("ac_id", e.acID), zap.Error(err))
			continue
		}
		s.mu.Lock()
		delete(s.pendingUsage, e.acID)
		s.mu.Unlock()
		size -= s.releaseCas(ctx, e.casID)
		removed++
		if size <= s.sizeLimit {
			break
		}
	}
	s.logger.Debug("size sweep finished", zap.Int("removed", removed), zap.Int64("total_size", size))
}
