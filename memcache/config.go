package memcache

import "go.uber.org/zap"

const defaultUnusedSizeLimit = 1 << 30

// Config bounds the records retained after their last pin is released.
type Config struct {
	// UnusedSizeLimit caps the total size of unpinned READY records, in bytes.
	UnusedSizeLimit int64

	// MaxUnusedEntries caps the number of unpinned READY records. Zero means no cap.
	MaxUnusedEntries int
}

func (c Config) withDefaults() Config {
	if c.UnusedSizeLimit <= 0 {
		c.UnusedSizeLimit = defaultUnusedSizeLimit
	}
	if c.MaxUnusedEntries < 0 {
		c.MaxUnusedEntries = 0
	}
	return c
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}
