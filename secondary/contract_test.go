package secondary_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/open-cradle/cradle-sub002/secondary"
	"github.com/open-cradle/cradle-sub002/secondary/secondarytest"
)

// fakeBazelRemote serves /ac and /cas from memory.
type fakeBazelRemote struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (f *fakeBazelRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.HasPrefix(path, "ac/") && !strings.HasPrefix(path, "cas/") {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		body, ok := f.blobs[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.blobs[path] = body
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestStorageContract(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(&fakeBazelRemote{blobs: map[string][]byte{}})
	t.Cleanup(server.Close)

	cases := []struct {
		name string
		cfg  func(t *testing.T) secondary.Config
		opts secondarytest.Options
	}{
		{
			name: "null",
			cfg:  func(*testing.T) secondary.Config { return secondary.Config{Driver: secondary.DriverNull} },
			opts: secondarytest.Options{NullSemantics: true},
		},
		{
			name: "memory",
			cfg:  func(*testing.T) secondary.Config { return secondary.Config{Driver: secondary.DriverMemory} },
		},
		{
			name: "memory_gzip",
			cfg: func(*testing.T) secondary.Config {
				return secondary.Config{Driver: secondary.DriverMemory, Compression: secondary.CompressionGzip}
			},
		},
		{
			name: "memory_sealed_gzip",
			cfg: func(*testing.T) secondary.Config {
				return secondary.Config{
					Driver:        secondary.DriverMemory,
					Compression:   secondary.CompressionGzip,
					EncryptionKey: []byte("0123456789abcdef"),
				}
			},
		},
		{
			name: "local_disk",
			cfg: func(t *testing.T) secondary.Config {
				return secondary.Config{Driver: secondary.DriverDisk, Dir: t.TempDir(), CheckFileData: true}
			},
		},
		{
			name: "local_disk_snappy",
			cfg: func(t *testing.T) secondary.Config {
				return secondary.Config{Driver: secondary.DriverDisk, Dir: t.TempDir(), Compression: secondary.CompressionSnappy}
			},
		},
		{
			name: "leveldb",
			cfg: func(t *testing.T) secondary.Config {
				return secondary.Config{Driver: secondary.DriverLevelDB, Dir: t.TempDir()}
			},
		},
		{
			name: "sql_sqlite",
			cfg: func(t *testing.T) secondary.Config {
				return secondary.Config{
					Driver:        secondary.DriverSQL,
					SQLDriverName: "sqlite",
					SQLDSN:        "file:" + filepath.Join(t.TempDir(), "cache.db"),
				}
			},
		},
		{
			name: "http",
			cfg: func(*testing.T) secondary.Config {
				return secondary.Config{Driver: secondary.DriverHTTP, BaseURL: server.URL}
			},
			opts: secondarytest.Options{SkipFlush: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := secondary.New(ctx, tc.cfg(t))
			if err != nil {
				t.Fatalf("new storage failed: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			secondarytest.RunStorageContract(t, store, tc.opts)
		})
	}
}
