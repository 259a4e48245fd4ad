package resolve

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/memcache"
	"github.com/open-cradle/cradle-sub002/remote"
	"github.com/open-cradle/cradle-sub002/secondary"
)

var (
	// ErrUnknownDomain is returned when looking up an unregistered domain.
	ErrUnknownDomain = errors.New("resolve: unknown domain")
	// ErrDuplicateDomain is returned when registering a domain name twice.
	ErrDuplicateDomain = errors.New("resolve: domain already registered")
)

// Domain groups the requests of one application area. Initialize registers
// its operations in the catalog.
type Domain interface {
	Name() string
	Initialize(res *Resources) error
	NewLocalContext(res *Resources) *Context
}

// Resources holds the state shared by every resolution in a process.
type Resources struct {
	memory   *memcache.Cache
	store    secondary.Storage
	proxies  *remote.Registry
	catalog  *Catalog
	logger   *zap.Logger
	observer Observer

	domainsMu sync.RWMutex
	domains   map[string]Domain

	background sync.WaitGroup
}

// Option customizes Resources.
type Option func(*Resources)

// WithMemoryConfig sets the memory cache bounds.
func WithMemoryConfig(cfg memcache.Config) Option {
	return func(r *Resources) {
		r.memory = memcache.New(cfg, memcache.WithLogger(r.logger))
	}
}

// WithSecondary sets the secondary store. Without one, CachingFull behaves
// like CachingMemory.
func WithSecondary(store secondary.Storage) Option {
	return func(r *Resources) { r.store = store }
}

// WithProxies sets the proxy registry.
func WithProxies(proxies *remote.Registry) Option {
	return func(r *Resources) { r.proxies = proxies }
}

// WithCatalog sets the operation catalog.
func WithCatalog(c *Catalog) Option {
	return func(r *Resources) { r.catalog = c }
}

// WithLogger sets the logger. Apply it before WithMemoryConfig for the
// memory cache to share it.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resources) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver receives one event per resolution stage.
func WithObserver(o Observer) Option {
	return func(r *Resources) { r.observer = o }
}

// NewResources builds Resources with a default memory cache, an empty proxy
// registry and an empty catalog.
func NewResources(opts ...Option) *Resources {
	r := &Resources{
		logger:  zap.NewNop(),
		domains: make(map[string]Domain),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.memory == nil {
		r.memory = memcache.New(memcache.Config{}, memcache.WithLogger(r.logger))
	}
	if r.proxies == nil {
		r.proxies = remote.NewRegistry()
	}
	if r.catalog == nil {
		r.catalog = NewCatalog()
	}
	return r
}

func (r *Resources) Memory() *memcache.Cache      { return r.memory }
func (r *Resources) Secondary() secondary.Storage { return r.store }
func (r *Resources) Proxies() *remote.Registry    { return r.proxies }
func (r *Resources) Catalog() *Catalog            { return r.catalog }
func (r *Resources) Logger() *zap.Logger          { return r.logger }

// ResetMemory drops every memory cache entry and applies cfg.
func (r *Resources) ResetMemory(cfg memcache.Config) {
	r.memory.Reset(cfg)
}

// RegisterDomain initializes d and makes it available under d.Name().
func (r *Resources) RegisterDomain(d Domain) error {
	r.domainsMu.Lock()
	defer r.domainsMu.Unlock()
	if _, ok := r.domains[d.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDomain, d.Name())
	}
	if err := d.Initialize(r); err != nil {
		return fmt.Errorf("initialize domain %s: %w", d.Name(), err)
	}
	r.domains[d.Name()] = d
	return nil
}

// FindDomain returns the domain registered under name.
func (r *Resources) FindDomain(name string) (Domain, error) {
	r.domainsMu.RLock()
	defer r.domainsMu.RUnlock()
	d, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d, nil
}

// Domains lists the registered domain names in sorted order.
func (r *Resources) Domains() []string {
	r.domainsMu.RLock()
	defer r.domainsMu.RUnlock()
	out := make([]string, 0, len(r.domains))
	for name := range r.domains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until background computations and secondary writes started
// so far have finished.
func (r *Resources) Wait() {
	r.background.Wait()
}

// Close waits for background work and closes the secondary store.
func (r *Resources) Close() error {
	r.Wait()
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Resources) goBackground(fn func()) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		fn()
	}()
}
