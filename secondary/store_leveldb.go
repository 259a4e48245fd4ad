package secondary

import (
	"context"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDBStorage keeps entries in an embedded LevelDB database. It has no
// size bound of its own.
type levelDBStorage struct {
	db     *leveldb.DB
	prefix []byte
}

func newLevelDBStorage(_ context.Context, cfg Config) (Storage, error) {
	if cfg.Dir == "" {
		return nil, errors.New("leveldb cache requires a directory")
	}
	db, err := leveldb.OpenFile(cfg.Dir, nil)
	if err != nil {
		return nil, err
	}
	return &levelDBStorage{db: db, prefix: []byte(cfg.Prefix + ":")}, nil
}

func (s *levelDBStorage) Driver() Driver { return DriverLevelDB }

func (s *levelDBStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.db.Get(s.cacheKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *levelDBStorage) Set(_ context.Context, key string, value []byte) error {
	return s.db.Put(s.cacheKey(key), value, nil)
}

func (s *levelDBStorage) Flush(context.Context) error {
	iter := s.db.NewIterator(util.BytesPrefix(s.prefix), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(cloneBytes(iter.Key()))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelDBStorage) Close() error { return s.db.Close() }

func (s *levelDBStorage) cacheKey(key string) []byte {
	return append(append([]byte{}, s.prefix...), key...)
}
