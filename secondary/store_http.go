package secondary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// httpStorage talks to a bazel-remote style cache: /ac/<key> maps an action
// key to a value digest, /cas/<digest> holds the value.
type httpStorage struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *zap.Logger
}

func newHTTPStorage(_ context.Context, cfg Config) (Storage, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("http cache requires a base url")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &httpStorage{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		logger:   cfg.Logger.With(zap.String("driver", string(DriverHTTP))),
	}, nil
}

func (s *httpStorage) Driver() Driver { return DriverHTTP }

func (s *httpStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	digest, ok, err := s.get(ctx, "/ac/"+key)
	if err != nil || !ok {
		return nil, false, err
	}
	casKey := strings.TrimSpace(string(digest))
	value, ok, err := s.get(ctx, "/cas/"+casKey)
	if err != nil || !ok {
		return nil, false, err
	}
	if digestOf(value) != casKey {
		return nil, false, fmt.Errorf("%w: cas digest mismatch for key %s", ErrCorrupt, key)
	}
	return value, true, nil
}

func (s *httpStorage) Set(ctx context.Context, key string, value []byte) error {
	digest := digestOf(value)
	s.logger.Debug("http cache put", zap.String("key", key), zap.String("digest", digest), zap.Int("size", len(value)))
	if err := s.put(ctx, "/cas/"+digest, value); err != nil {
		return err
	}
	return s.put(ctx, "/ac/"+key, []byte(digest))
}

func (s *httpStorage) Flush(context.Context) error {
	return fmt.Errorf("%w: http cache flush", ErrUnsupported)
}

func (s *httpStorage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *httpStorage) get(ctx context.Context, path string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, false, err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("http cache GET %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (s *httpStorage) put(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(body))
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http cache PUT %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (s *httpStorage) authorize(req *http.Request) {
	if s.username != "" || s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
}
