package secondary

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPrefix          = "cradle"
	defaultSizeLimit       = 1 << 30
	defaultPollInterval    = 200 * time.Millisecond
	defaultInlineThreshold = 1024
	defaultHTTPTimeout     = 30 * time.Second
	defaultMemoryTTL       = time.Hour
	defaultCleanupInterval = 10 * time.Minute
	defaultSQLTable        = "cradle_entries"
	defaultDynamoTable     = "cradle_entries"
	defaultNATSBucket      = "cradle"
	defaultWriteParallel   = 4
	defaultCloseGrace      = 5 * time.Second
)

func defaultDiskDir() string {
	return filepath.Join(os.TempDir(), "cradle-disk-cache")
}

// Config controls how a Storage is constructed. Only the fields for the
// selected Driver are consulted.
type Config struct {
	Driver Driver

	// Logger receives backend diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Prefix namespaces keys in shared backends (redis, nats, sql, dynamodb).
	Prefix string

	// Compression applies a codec to every stored value.
	Compression CompressionCodec

	// MaxValueBytes rejects larger values on Set. Zero means unbounded.
	MaxValueBytes int

	// EncryptionKey seals values with AES-GCM when set. It must be 16, 24
	// or 32 bytes long.
	EncryptionKey []byte

	// Dir is the local disk cache directory, or the leveldb directory.
	Dir string
	// SizeLimit bounds the local disk cache, in bytes.
	SizeLimit int64
	// PollInterval is the local disk worker period.
	PollInterval time.Duration
	// StartEmpty wipes the local disk cache when it is opened.
	StartEmpty bool
	// CheckFileData verifies value digests on every local disk read.
	CheckFileData bool
	// InlineThreshold is the largest value stored inside the index database.
	InlineThreshold int
	// WriteParallelism bounds concurrent local disk file writes.
	WriteParallelism int
	// CloseGrace bounds how long Close waits for the worker.
	CloseGrace time.Duration

	// BaseURL is the HTTP cache endpoint, e.g. http://localhost:9090.
	BaseURL string
	// Username and Password enable basic auth for the HTTP cache.
	Username string
	Password string
	// HTTPClient overrides the client used by the HTTP cache.
	HTTPClient *http.Client
	// HTTPTimeout applies when HTTPClient is nil.
	HTTPTimeout time.Duration

	// RedisClient is used by DriverRedis; RedisAddr is dialed when it is nil.
	RedisClient RedisClient
	RedisAddr   string

	// NATSKeyValue is used by DriverNATS; NATSURL and NATSBucket are dialed when it is nil.
	NATSKeyValue NATSKeyValue
	NATSURL      string
	NATSBucket   string

	// DynamoClient is used by DriverDynamo; a client is built from the region
	// and endpoint when it is nil.
	DynamoClient   DynamoAPI
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string

	// SQLDriverName is one of sqlite, mysql, pgx.
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	// MemoryTTL and MemoryCleanupInterval configure DriverMemory.
	MemoryTTL             time.Duration
	MemoryCleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.Dir == "" {
		c.Dir = defaultDiskDir()
	}
	if c.SizeLimit <= 0 {
		c.SizeLimit = defaultSizeLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.InlineThreshold <= 0 {
		c.InlineThreshold = defaultInlineThreshold
	}
	if c.WriteParallelism <= 0 {
		c.WriteParallelism = defaultWriteParallel
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = defaultCloseGrace
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.NATSBucket == "" {
		c.NATSBucket = defaultNATSBucket
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = "us-east-1"
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.MemoryTTL <= 0 {
		c.MemoryTTL = defaultMemoryTTL
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultCleanupInterval
	}
	return c
}
