package track

import (
	"testing"

	"github.com/joshuapare/safetynet/internal/config"
)

// BenchmarkAllocateFree measures one tracked allocation and its release.
func BenchmarkAllocateFree(b *testing.B) {
	t, err := New()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := range b.N {
		buf, err := t.Allocate(64 + i%64)
		if err != nil {
			b.Fatal(err)
		}
		if err := t.Free(buf); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkQuerySize compares cached lookups against full registry scans over
// 1024 live blocks.
func BenchmarkQuerySize(b *testing.B) {
	for _, tc := range []struct {
		name  string
		cache bool
	}{
		{"cache", true},
		{"scan", false},
	} {
		b.Run(tc.name, func(b *testing.B) {
			cfg := config.Default()
			cfg.FastCache.Enabled = tc.cache
			cfg.MaintenanceEvery = 0
			t, err := New(WithConfig(cfg))
			if err != nil {
				b.Fatal(err)
			}
			var last Addr
			for range 1024 {
				buf, err := t.Allocate(32)
				if err != nil {
					b.Fatal(err)
				}
				last = AddrOf(buf)
			}
			if tc.cache {
				if _, err := t.RequestCache(last); err != nil {
					b.Fatal(err)
				}
			}

			b.ResetTimer()
			b.ReportAllocs()
			for range b.N {
				if _, err := t.QuerySize(last); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkAllocateParallel measures contention on the shared lock.
func BenchmarkAllocateParallel(b *testing.B) {
	t, err := New()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := t.Allocate(48)
			if err != nil {
				b.Error(err)
				return
			}
			if err := t.Free(buf); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
