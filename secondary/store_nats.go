package secondary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSKeyValue captures the subset of nats.KeyValue used by the storage.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

type natsStorage struct {
	kv     NATSKeyValue
	prefix string
	conn   *nats.Conn
}

func newNATSStorage(_ context.Context, cfg Config) (Storage, error) {
	s := &natsStorage{kv: cfg.NATSKeyValue, prefix: cfg.Prefix}
	if s.kv != nil {
		return s, nil
	}
	if cfg.NATSURL == "" {
		return nil, errors.New("nats cache requires a key-value bucket or a url")
	}
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	kv, err := js.KeyValue(cfg.NATSBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cfg.NATSBucket})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open nats bucket %s: %w", cfg.NATSBucket, err)
	}
	s.kv = kv
	s.conn = conn
	return s, nil
}

func (s *natsStorage) Driver() Driver { return DriverNATS }

func (s *natsStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(s.cacheKey(key))
	if isNATSMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return nil, false, nil
	}
	return cloneBytes(entry.Value()), true, nil
}

func (s *natsStorage) Set(_ context.Context, key string, value []byte) error {
	_, err := s.kv.Put(s.cacheKey(key), cloneBytes(value))
	return err
}

func (s *natsStorage) Flush(context.Context) error {
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scope := s.prefix + "."
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scope) {
			continue
		}
		if err := s.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
	}
	for err := range lister.Error() {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *natsStorage) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// cacheKey joins with '.', which NATS treats as a subject token separator.
func (s *natsStorage) cacheKey(key string) string {
	return s.prefix + "." + key
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}
