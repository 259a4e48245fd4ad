package secondary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownDriver is returned when no factory is registered for a driver name.
	ErrUnknownDriver = errors.New("secondary: unknown driver")
	// ErrDuplicateDriver is returned when registering a driver name twice.
	ErrDuplicateDriver = errors.New("secondary: driver already registered")
)

// Factory builds a storage from a defaulted Config.
type Factory func(ctx context.Context, cfg Config) (Storage, error)

// Registry maps driver names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Driver]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Driver]Factory)}
}

// NewBuiltinRegistry returns a registry holding every backend in this package.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for driver, f := range map[Driver]Factory{
		DriverNull:    newNullStorage,
		DriverMemory:  newMemoryStorage,
		DriverDisk:    newDiskStorage,
		DriverHTTP:    newHTTPStorage,
		DriverRedis:   newRedisStorage,
		DriverNATS:    newNATSStorage,
		DriverDynamo:  newDynamoStorage,
		DriverSQL:     newSQLStorage,
		DriverLevelDB: newLevelDBStorage,
	} {
		_ = r.Register(driver, f)
	}
	return r
}

var defaultRegistry = NewBuiltinRegistry()

// Register adds a factory for driver.
func (r *Registry) Register(driver Driver, f Factory) error {
	if driver == "" || f == nil {
		return errors.New("secondary: driver name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[driver]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDriver, driver)
	}
	r.factories[driver] = f
	return nil
}

// Drivers lists the registered driver names in sorted order.
func (r *Registry) Drivers() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.factories))
	for d := range r.factories {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds the storage selected by cfg.Driver and applies the configured
// compression and size limits on top of it.
func (r *Registry) New(ctx context.Context, cfg Config) (Storage, error) {
	cfg = cfg.withDefaults()
	r.mu.RLock()
	f, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
	store, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", cfg.Driver, err)
	}
	sealed, err := newEncryptingStorage(store, cfg.EncryptionKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return newShapingStorage(sealed, cfg.Compression, cfg.MaxValueBytes), nil
}

// Register adds a factory to the process-wide registry.
func Register(driver Driver, f Factory) error {
	return defaultRegistry.Register(driver, f)
}

// New builds a storage from the process-wide registry.
//
// Example: local disk cache
//
//	store, err := secondary.New(ctx, secondary.Config{
//		Driver:    secondary.DriverDisk,
//		Dir:       "/var/cache/cradle",
//		SizeLimit: 4 << 30,
//	})
func New(ctx context.Context, cfg Config) (Storage, error) {
	return defaultRegistry.New(ctx, cfg)
}

// NewWith builds a storage for driver using functional options.
func NewWith(ctx context.Context, driver Driver, opts ...Option) (Storage, error) {
	cfg := Config{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return New(ctx, cfg)
}
