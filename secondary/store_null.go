package secondary

import "context"

type nullStorage struct{}

func newNullStorage(context.Context, Config) (Storage, error) { return nullStorage{}, nil }

func (nullStorage) Driver() Driver { return DriverNull }

func (nullStorage) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (nullStorage) Set(context.Context, string, []byte) error { return nil }

func (nullStorage) Flush(context.Context) error { return nil }

func (nullStorage) Close() error { return nil }
