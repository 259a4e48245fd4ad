package secondary

import (
	"time"

	"go.uber.org/zap"
)

// Option mutates Config when constructing a storage.
type Option func(Config) Config

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg Config) Config {
		cfg.Logger = logger
		return cfg
	}
}

// WithPrefix sets the key prefix for shared backends.
func WithPrefix(prefix string) Option {
	return func(cfg Config) Config {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithCompression compresses values with codec before storing them.
func WithCompression(codec CompressionCodec) Option {
	return func(cfg Config) Config {
		cfg.Compression = codec
		return cfg
	}
}

// WithEncryptionKey seals values with AES-GCM under key.
func WithEncryptionKey(key []byte) Option {
	return func(cfg Config) Config {
		cfg.EncryptionKey = key
		return cfg
	}
}

// WithMaxValueBytes rejects values larger than n bytes.
func WithMaxValueBytes(n int) Option {
	return func(cfg Config) Config {
		cfg.MaxValueBytes = n
		return cfg
	}
}

// WithDir sets the local disk or leveldb directory.
func WithDir(dir string) Option {
	return func(cfg Config) Config {
		cfg.Dir = dir
		return cfg
	}
}

// WithSizeLimit bounds the local disk cache.
func WithSizeLimit(limit int64) Option {
	return func(cfg Config) Config {
		cfg.SizeLimit = limit
		return cfg
	}
}

// WithPollInterval sets the local disk worker period.
func WithPollInterval(interval time.Duration) Option {
	return func(cfg Config) Config {
		cfg.PollInterval = interval
		return cfg
	}
}

// WithStartEmpty wipes the local disk cache at open.
func WithStartEmpty(enabled bool) Option {
	return func(cfg Config) Config {
		cfg.StartEmpty = enabled
		return cfg
	}
}

// WithCheckFileData verifies value digests on local disk reads.
func WithCheckFileData(enabled bool) Option {
	return func(cfg Config) Config {
		cfg.CheckFileData = enabled
		return cfg
	}
}

// WithBaseURL sets the HTTP cache endpoint.
func WithBaseURL(url string) Option {
	return func(cfg Config) Config {
		cfg.BaseURL = url
		return cfg
	}
}

// WithRedisClient sets the redis client.
func WithRedisClient(client RedisClient) Option {
	return func(cfg Config) Config {
		cfg.RedisClient = client
		return cfg
	}
}

// WithNATSKeyValue sets the NATS key-value bucket.
func WithNATSKeyValue(kv NATSKeyValue) Option {
	return func(cfg Config) Config {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithDynamoClient sets the DynamoDB client.
func WithDynamoClient(client DynamoAPI) Option {
	return func(cfg Config) Config {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithSQL sets the database/sql driver name, DSN and table.
func WithSQL(driverName, dsn, table string) Option {
	return func(cfg Config) Config {
		cfg.SQLDriverName = driverName
		cfg.SQLDSN = dsn
		cfg.SQLTable = table
		return cfg
	}
}
