// Package secondary defines the persistent cache tier behind the memory
// cache and the backends that implement it.
package secondary

import (
	"context"
	"errors"
)

// Driver names a storage backend in the factory registry.
type Driver string

const (
	DriverNull    Driver = "null"
	DriverMemory  Driver = "memory"
	DriverDisk    Driver = "local_disk"
	DriverHTTP    Driver = "http"
	DriverRedis   Driver = "redis"
	DriverNATS    Driver = "nats"
	DriverDynamo  Driver = "dynamodb"
	DriverSQL     Driver = "sql"
	DriverLevelDB Driver = "leveldb"
)

// Storage is the contract every backend implements. Keys are digests.
type Storage interface {
	Driver() Driver
	// Get returns the stored blob. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set persists value under key. Backends may deduplicate by content.
	Set(ctx context.Context, key string, value []byte) error
	// Flush removes every entry.
	Flush(ctx context.Context) error
	// Close stops background work and releases resources.
	Close() error
}

var (
	// ErrCorrupt marks stored data that failed an integrity check. Callers
	// surface it instead of treating it as a miss.
	ErrCorrupt = errors.New("secondary: corrupt entry")
	// ErrUnsupported is returned by operations a backend cannot perform.
	ErrUnsupported = errors.New("secondary: operation not supported")
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Unwrap strips decorators added by New and returns the concrete backend.
func Unwrap(s Storage) Storage {
	for {
		u, ok := s.(interface{ Unwrap() Storage })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}
