package secondary

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStorage keeps values in process. Entries expire after MemoryTTL,
// which stands in for a size bound.
type memoryStorage struct {
	cache *gocache.Cache
}

func newMemoryStorage(_ context.Context, cfg Config) (Storage, error) {
	return &memoryStorage{cache: gocache.New(cfg.MemoryTTL, cfg.MemoryCleanupInterval)}, nil
}

func (s *memoryStorage) Driver() Driver { return DriverMemory }

func (s *memoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStorage) Set(_ context.Context, key string, value []byte) error {
	s.cache.SetDefault(key, cloneBytes(value))
	return nil
}

func (s *memoryStorage) Flush(context.Context) error {
	s.cache.Flush()
	return nil
}

func (s *memoryStorage) Close() error { return nil }

// Len reports the number of live entries.
func (s *memoryStorage) Len() int { return s.cache.ItemCount() }
