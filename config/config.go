// Package config loads engine settings from a file and CRADLE_ environment
// variables, and turns them into component configs.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/memcache"
	"github.com/open-cradle/cradle-sub002/resolve"
	"github.com/open-cradle/cradle-sub002/secondary"
)

// EnvPrefix prefixes every environment override, e.g.
// CRADLE_SECONDARY_CACHE_DIRECTORY.
const EnvPrefix = "CRADLE"

var (
	// ErrMissingKey is returned by Validate when a mandatory key is unset.
	ErrMissingKey = errors.New("config: missing mandatory key")
	// ErrInvalidValue is returned by Validate for a value outside its domain.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config is the top-level configuration.
type Config struct {
	MemoryCache    MemoryCacheConfig    `yaml:"memory_cache"`
	SecondaryCache SecondaryCacheConfig `yaml:"secondary_cache"`
	Remote         RemoteConfig         `yaml:"remote"`
	Log            LogConfig            `yaml:"log"`
}

// MemoryCacheConfig bounds the memory cache.
type MemoryCacheConfig struct {
	UnusedSizeLimit  int64 `yaml:"unused_size_limit"`
	MaxUnusedEntries int   `yaml:"max_unused_entries"`
}

// SecondaryCacheConfig selects and configures the secondary store. Factory
// is a secondary.Driver name; the other keys apply to the backends that use
// them.
type SecondaryCacheConfig struct {
	Factory       string        `yaml:"factory"`
	Prefix        string        `yaml:"prefix"`
	Compression   string        `yaml:"compression"`
	MaxValueBytes int           `yaml:"max_value_bytes"`
	EncryptionKey string        `yaml:"encryption_key"`
	Directory     string        `yaml:"directory"`
	SizeLimit     int64         `yaml:"size_limit"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	StartEmpty    bool          `yaml:"start_empty"`
	CheckFileData bool          `yaml:"check_file_data"`

	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	RedisAddr  string `yaml:"redis_addr"`
	NATSURL    string `yaml:"nats_url"`
	NATSBucket string `yaml:"nats_bucket"`

	DynamoTable    string `yaml:"dynamo_table"`
	DynamoRegion   string `yaml:"dynamo_region"`
	DynamoEndpoint string `yaml:"dynamo_endpoint"`

	SQLDriver string `yaml:"sql_driver"`
	SQLDSN    string `yaml:"sql_dsn"`
	SQLTable  string `yaml:"sql_table"`
}

// RemoteConfig selects a proxy for computation. An empty Proxy computes in
// process.
type RemoteConfig struct {
	Proxy        string        `yaml:"proxy"`
	Domain       string        `yaml:"domain"`
	Async        bool          `yaml:"async"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CachingLevel string        `yaml:"caching_level"`
}

// LogConfig configures the zap logger built by NewLogger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Production bool   `yaml:"production"`
}

// Default returns the configuration used when no file is given: a memory
// secondary store and local computation.
func Default() Config {
	return Config{
		SecondaryCache: SecondaryCacheConfig{Factory: string(secondary.DriverMemory)},
		Log:            LogConfig{Level: "info"},
	}
}

// Load reads path, when set, on top of Default and applies environment
// overrides. The file format follows its extension (yaml, toml, json).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindEnv(v, "", reflect.TypeOf(Config{})); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
		cfg.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg, decoderOpt); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// bindEnv registers every leaf key of t so that Unmarshal sees environment
// values for keys absent from the file.
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("yaml")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			if err := bindEnv(v, key, f.Type); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate fails on missing mandatory keys and out-of-domain values.
func (c Config) Validate() error {
	s := c.SecondaryCache
	if s.Factory == "" {
		return fmt.Errorf("%w: secondary_cache.factory", ErrMissingKey)
	}
	switch secondary.Driver(s.Factory) {
	case secondary.DriverDisk, secondary.DriverLevelDB:
		if s.Directory == "" {
			return fmt.Errorf("%w: secondary_cache.directory", ErrMissingKey)
		}
	case secondary.DriverHTTP:
		if s.BaseURL == "" {
			return fmt.Errorf("%w: secondary_cache.base_url", ErrMissingKey)
		}
	case secondary.DriverSQL:
		if s.SQLDriver == "" || s.SQLDSN == "" {
			return fmt.Errorf("%w: secondary_cache.sql_driver and secondary_cache.sql_dsn", ErrMissingKey)
		}
	}
	switch secondary.CompressionCodec(s.Compression) {
	case "", secondary.CompressionNone, secondary.CompressionGzip, secondary.CompressionSnappy:
	default:
		return fmt.Errorf("%w: secondary_cache.compression %q", ErrInvalidValue, s.Compression)
	}
	switch len(s.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: secondary_cache.encryption_key must be 16, 24 or 32 bytes", ErrInvalidValue)
	}
	if c.Remote.Proxy != "" && c.Remote.Domain == "" {
		return fmt.Errorf("%w: remote.domain", ErrMissingKey)
	}
	if _, err := resolve.ParseCachingLevel(c.Remote.CachingLevel); err != nil {
		return fmt.Errorf("%w: remote.caching_level %q", ErrInvalidValue, c.Remote.CachingLevel)
	}
	return nil
}

// MemcacheConfig converts the memory_cache section.
func (c MemoryCacheConfig) MemcacheConfig() memcache.Config {
	return memcache.Config{
		UnusedSizeLimit:  c.UnusedSizeLimit,
		MaxUnusedEntries: c.MaxUnusedEntries,
	}
}

// StorageConfig converts the secondary_cache section. Client-backed
// drivers dial RedisAddr, NATSURL or the Dynamo region and endpoint.
func (c SecondaryCacheConfig) StorageConfig(logger *zap.Logger) secondary.Config {
	return secondary.Config{
		Driver:         secondary.Driver(c.Factory),
		Logger:         logger,
		Prefix:         c.Prefix,
		Compression:    secondary.CompressionCodec(c.Compression),
		MaxValueBytes:  c.MaxValueBytes,
		EncryptionKey:  []byte(c.EncryptionKey),
		Dir:            c.Directory,
		SizeLimit:      c.SizeLimit,
		PollInterval:   c.PollInterval,
		StartEmpty:     c.StartEmpty,
		CheckFileData:  c.CheckFileData,
		BaseURL:        c.BaseURL,
		Username:       c.Username,
		Password:       c.Password,
		RedisAddr:      c.RedisAddr,
		NATSURL:        c.NATSURL,
		NATSBucket:     c.NATSBucket,
		DynamoTable:    c.DynamoTable,
		DynamoRegion:   c.DynamoRegion,
		DynamoEndpoint: c.DynamoEndpoint,
		SQLDriverName:  c.SQLDriver,
		SQLDSN:         c.SQLDSN,
		SQLTable:       c.SQLTable,
	}
}

// ContextFor returns the resolve context the remote section describes.
func (c RemoteConfig) ContextFor(res *resolve.Resources) (*resolve.Context, error) {
	level, err := resolve.ParseCachingLevel(c.CachingLevel)
	if err != nil {
		return nil, err
	}
	var rc *resolve.Context
	if c.Proxy == "" {
		rc = resolve.NewLocalContext(res)
	} else {
		rc = resolve.NewRemoteContext(res, c.Proxy, c.Domain)
		rc.Async = c.Async
		rc.PollInterval = c.PollInterval
	}
	rc.Level = level
	return rc, nil
}
