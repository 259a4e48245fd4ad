package secondary

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("secondary: encryption key must be 16, 24, or 32 bytes")
)

// encryptingStorage seals values with AES-GCM before they reach a backend
// that may be shared with other hosts.
type encryptingStorage struct {
	inner Storage
	aead  cipher.AEAD
}

func newEncryptingStorage(inner Storage, key []byte) (Storage, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptingStorage{inner: inner, aead: aead}, nil
}

func (s *encryptingStorage) Driver() Driver { return s.inner.Driver() }

func (s *encryptingStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := s.open(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return plain, true, nil
}

func (s *encryptingStorage) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *encryptingStorage) Flush(ctx context.Context) error { return s.inner.Flush(ctx) }

func (s *encryptingStorage) Close() error { return s.inner.Close() }

// Unwrap returns the decorated storage.
func (s *encryptingStorage) Unwrap() Storage { return s.inner }

func (s *encryptingStorage) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(plain)+s.aead.Overhead())
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	return s.aead.Seal(buf, nonce, plain, nil), nil
}

// open rejects unsealed input: every value written through this storage is
// sealed, so a plain value means the key or the data changed.
func (s *encryptingStorage) open(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return nil, errors.New("value is not sealed")
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, errors.New("truncated nonce")
	}
	nonce := in[offset : offset+nonceLen]
	return s.aead.Open(nil, nonce, in[offset+nonceLen:], nil)
}
