package secondary

import "context"

// shapingStorage enforces compression and size limits transparently on top
// of any concrete Storage.
type shapingStorage struct {
	inner Storage
	codec CompressionCodec
	max   int
}

func newShapingStorage(inner Storage, codec CompressionCodec, max int) Storage {
	if (codec == "" || codec == CompressionNone) && max <= 0 {
		return inner
	}
	return &shapingStorage{inner: inner, codec: codec, max: max}
}

func (s *shapingStorage) Driver() Driver { return s.inner.Driver() }

func (s *shapingStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	decoded, err := decodeValue(body)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (s *shapingStorage) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := encodeValue(s.codec, s.max, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, encoded)
}

func (s *shapingStorage) Flush(ctx context.Context) error { return s.inner.Flush(ctx) }

func (s *shapingStorage) Close() error { return s.inner.Close() }

// Unwrap returns the decorated storage.
func (s *shapingStorage) Unwrap() Storage { return s.inner }
