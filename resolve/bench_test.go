//go:build bench

package resolve_test

import (
	"context"
	"os"
	"testing"

	"github.com/open-cradle/cradle-sub002/cachekey"
	"github.com/open-cradle/cradle-sub002/resolve"
	"github.com/open-cradle/cradle-sub002/sample"
	"github.com/open-cradle/cradle-sub002/secondary"
)

type benchCase struct {
	name string
	cfg  func(testing.TB) secondary.Config
}

// BenchmarkResolveSecondaryHit measures a resolution served by the secondary
// store after the memory record was dropped. BENCH_DRIVER selects one backend.
func BenchmarkResolveSecondaryHit(b *testing.B) {
	wantedDriver := os.Getenv("BENCH_DRIVER")
	cases := []benchCase{
		{name: "memory", cfg: func(testing.TB) secondary.Config { return secondary.Config{Driver: secondary.DriverMemory} }},
		{name: "local_disk", cfg: func(tb testing.TB) secondary.Config {
			return secondary.Config{Driver: secondary.DriverDisk, Dir: tb.TempDir()}
		}},
		{name: "leveldb", cfg: func(tb testing.TB) secondary.Config {
			return secondary.Config{Driver: secondary.DriverLevelDB, Dir: tb.TempDir()}
		}},
	}
	for _, bc := range cases {
		if wantedDriver != "" && wantedDriver != bc.name {
			continue
		}
		b.Run(bc.name, func(b *testing.B) {
			ctx := context.Background()
			store, err := secondary.New(ctx, bc.cfg(b))
			if err != nil {
				b.Fatalf("new store failed: %v", err)
			}
			res := resolve.NewResources(resolve.WithSecondary(store))
			defer res.Close()
			rc := resolve.NewLocalContext(res)
			req := sample.MakeBlob{Size: 16 << 10, Fill: 7}
			key := cachekey.New(req)
			if _, err := resolve.Resolve[[]byte](ctx, rc, req); err != nil {
				b.Fatalf("resolve failed: %v", err)
			}
			res.Wait()

			b.SetBytes(int64(req.Size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				res.Memory().Forget(key)
				if _, err := resolve.Resolve[[]byte](ctx, rc, req); err != nil {
					b.Fatalf("resolve failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkResolveMemoryHit(b *testing.B) {
	ctx := context.Background()
	res := resolve.NewResources()
	defer res.Close()
	rc := resolve.NewLocalContext(res)
	req := sample.Sum{Values: []int64{1, 2, 3}}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := resolve.Resolve[int64](ctx, rc, req); err != nil {
				b.Fatalf("resolve failed: %v", err)
			}
		}
	})
}
