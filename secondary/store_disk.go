package secondary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	createTempFile = os.CreateTemp
	renameFile     = os.Rename
)

var errStorageClosed = errors.New("secondary: storage closed")

// maxSetAttempts bounds Set retries when a concurrent sweep releases the CAS
// row it is about to reference.
const maxSetAttempts = 3

// DiskInfo summarizes a local disk cache.
type DiskInfo struct {
	Directory     string `yaml:"directory"`
	SizeLimit     int64  `yaml:"size_limit"`
	ACEntryCount  int64  `yaml:"ac_entry_count"`
	CASEntryCount int64  `yaml:"cas_entry_count"`
	TotalSize     int64  `yaml:"total_size"`
}

// Informer is implemented by storages that can describe their contents.
type Informer interface {
	Info(ctx context.Context) (DiskInfo, error)
}

// diskStorage keeps action entries and small values in an SQLite index and
// larger values as snappy-compressed files under <dir>/cas. A background
// worker writes usage back to the index and keeps the total size under the
// configured limit.
type diskStorage struct {
	dir             string
	casDir          string
	sizeLimit       int64
	inlineThreshold int
	checkFileData   bool
	pollInterval    time.Duration
	closeGrace      time.Duration
	logger          *zap.Logger

	index  *diskIndex
	writes *semaphore.Weighted

	mu              sync.Mutex
	pendingUsage    map[int64]struct{}
	latestActivity  time.Time
	bytesSinceSweep int64

	sweep     chan struct{}
	stop      chan struct{}
	finished  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newDiskStorage(ctx context.Context, cfg Config) (Storage, error) {
	if cfg.Dir == "" {
		return nil, errors.New("local disk cache requires a directory")
	}
	casDir := filepath.Join(cfg.Dir, "cas")
	if err := os.MkdirAll(casDir, 0o755); err != nil {
		return nil, err
	}
	index, err := openDiskIndex(ctx, filepath.Join(cfg.Dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open disk cache index: %w", err)
	}
	s := &diskStorage{
		dir:             cfg.Dir,
		casDir:          casDir,
		sizeLimit:       cfg.SizeLimit,
		inlineThreshold: cfg.InlineThreshold,
		checkFileData:   cfg.CheckFileData,
		pollInterval:    cfg.PollInterval,
		closeGrace:      cfg.CloseGrace,
		logger:          cfg.Logger.With(zap.String("driver", string(DriverDisk)), zap.String("dir", cfg.Dir)),
		index:           index,
		writes:          semaphore.NewWeighted(int64(cfg.WriteParallelism)),
		pendingUsage:    make(map[int64]struct{}),
		sweep:           make(chan struct{}, 1),
		stop:            make(chan struct{}),
		finished:        make(chan struct{}),
	}
	if cfg.StartEmpty {
		if err := s.removeAll(ctx); err != nil {
			index.close()
			return nil, err
		}
	}
	invalid, err := index.removeInvalid(ctx)
	if err != nil {
		index.close()
		return nil, err
	}
	for _, d := range invalid {
		_ = os.Remove(s.casPath(d))
	}
	s.enforceSizeLimit(ctx)

	go s.run()
	return s, nil
}

func (s *diskStorage) Driver() Driver { return DriverDisk }

func (s *diskStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, errStorageClosed
	}
	entry, ok, err := s.index.lookup(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	var value []byte
	switch entry.storage {
	case casInline:
		value = entry.value
	case casFile:
		value, err = s.readFile(entry.digest)
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cas file missing, dropping entry", zap.String("key", key), zap.String("digest", entry.digest))
			s.removeEntry(ctx, entry.acID, entry.casID)
			return nil, false, nil
		}
		if err != nil {
			s.removeEntry(ctx, entry.acID, entry.casID)
			return nil, false, err
		}
	default:
		return nil, false, nil
	}

	if s.checkFileData && digestOf(value) != entry.digest {
		s.removeEntry(ctx, entry.acID, entry.casID)
		return nil, false, fmt.Errorf("%w: digest mismatch for key %s", ErrCorrupt, key)
	}

	s.mu.Lock()
	s.pendingUsage[entry.acID] = struct{}{}
	s.latestActivity = time.Now()
	s.mu.Unlock()
	return value, true, nil
}

func (s *diskStorage) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return errStorageClosed
	}
	digest := digestOf(value)
	var (
		casID, inserted, previous int64
		err                       error
	)
	for attempt := 0; ; attempt++ {
		casID, inserted, err = s.storeCas(ctx, digest, value)
		if err != nil {
			return err
		}
		previous, err = s.index.upsertAction(ctx, key, casID, time.Now())
		if errors.Is(err, errCasGone) && attempt < maxSetAttempts-1 {
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	if previous != 0 && previous != casID {
		s.releaseCas(ctx, previous)
	}

	s.mu.Lock()
	s.latestActivity = time.Now()
	s.bytesSinceSweep += inserted
	needSweep := s.bytesSinceSweep > s.sizeLimit/128
	s.mu.Unlock()
	if needSweep {
		select {
		case s.sweep <- struct{}{}:
		default:
		}
	}
	return nil
}

// storeCas makes sure a CAS row holds value and returns its id and the bytes
// it added to the store.
func (s *diskStorage) storeCas(ctx context.Context, digest string, value []byte) (int64, int64, error) {
	casID, storage, ok, err := s.index.casByDigest(ctx, digest)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case ok && storage != casPending:
		return casID, 0, nil
	case len(value) <= s.inlineThreshold:
		if casID, err = s.index.insertInline(ctx, digest, value); err != nil {
			return 0, 0, err
		}
		return casID, int64(len(value)), nil
	default:
		if casID, err = s.index.initiateFileInsert(ctx, digest); err != nil {
			return 0, 0, err
		}
		size, err := s.writeFile(ctx, digest, value)
		if err != nil {
			return 0, 0, err
		}
		if err := s.index.finishFileInsert(ctx, casID, size, int64(len(value))); err != nil {
			return 0, 0, err
		}
		return casID, size, nil
	}
}

func (s *diskStorage) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return errStorageClosed
	}
	return s.removeAll(ctx)
}

// Close stops the worker, waiting at most the configured grace period, and
// closes the index.
func (s *diskStorage) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		select {
		case <-s.finished:
		case <-time.After(s.closeGrace):
			s.closeErr = errors.New("secondary: disk cache worker did not stop in time")
			s.logger.Warn("disk cache worker did not stop in time", zap.Duration("grace", s.closeGrace))
		}
		if err := s.index.close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// Info reports entry counts and sizes.
func (s *diskStorage) Info(ctx context.Context) (DiskInfo, error) {
	if s.closed.Load() {
		return DiskInfo{}, errStorageClosed
	}
	acCount, casCount, err := s.index.counts(ctx)
	if err != nil {
		return DiskInfo{}, err
	}
	total, err := s.index.totalSize(ctx)
	if err != nil {
		return DiskInfo{}, err
	}
	return DiskInfo{
		Directory:     s.dir,
		SizeLimit:     s.sizeLimit,
		ACEntryCount:  acCount,
		CASEntryCount: casCount,
		TotalSize:     total,
	}, nil
}

func (s *diskStorage) removeAll(ctx context.Context) error {
	if err := s.index.removeAll(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingUsage = make(map[int64]struct{})
	s.bytesSinceSweep = 0
	s.mu.Unlock()
	if err := os.RemoveAll(s.casDir); err != nil {
		return err
	}
	return os.MkdirAll(s.casDir, 0o755)
}

func (s *diskStorage) removeEntry(ctx context.Context, acID, casID int64) {
	if err := s.index.removeAction(ctx, acID); err != nil {
		s.logger.Error("remove action entry", zap.Int64("ac_id", acID), zap.Error(err))
		return
	}
	s.mu.Lock()
	delete(s.pendingUsage, acID)
	s.mu.Unlock()
	s.releaseCas(ctx, casID)
}

func (s *diskStorage) releaseCas(ctx context.Context, casID int64) int64 {
	digest, storage, size, removed, err := s.index.releaseCas(ctx, casID)
	if err != nil {
		s.logger.Error("release cas entry", zap.Int64("cas_id", casID), zap.Error(err))
		return 0
	}
	if removed && storage != casInline {
		if err := os.Remove(s.casPath(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove cas file", zap.String("digest", digest), zap.Error(err))
		}
	}
	if !removed {
		return 0
	}
	return size
}

func (s *diskStorage) casPath(digest string) string {
	return filepath.Join(s.casDir, digest[:2], digest[2:])
}

func (s *diskStorage) readFile(digest string) ([]byte, error) {
	data, err := os.ReadFile(s.casPath(digest))
	if err != nil {
		return nil, err
	}
	value, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return value, nil
}

// writeFile stores the compressed value atomically and returns its size on disk.
func (s *diskStorage) writeFile(ctx context.Context, digest string, value []byte) (int64, error) {
	if err := s.writes.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.writes.Release(1)

	path := s.casPath(digest)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	body := snappy.Encode(nil, value)
	tmp, err := createTempFile(dir, "tmp-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := renameFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return int64(len(body)), nil
}

func digestOf(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
