package object

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
)

func benchFeature(b *testing.B, i int) *Feature {
	b.Helper()
	f, err := NewFeature(
		Geometry{SRID: 4326, WKB: []byte(fmt.Sprintf("point-%d", i))},
		fmt.Sprintf("road.%d", i),
		int32(i%6),
		map[string]any{"surface": "asphalt", "lanes": int64(i % 4)},
	)
	if err != nil {
		b.Fatalf("NewFeature: %v", err)
	}
	return f
}

// BenchmarkLooseStorePutFeature writes distinct features so every Put
// misses the Has fast path.
func BenchmarkLooseStorePutFeature(b *testing.B) {
	s := NewLooseStore(osfs.New(filepath.Join(b.TempDir(), "store")))
	features := make([]*Feature, b.N)
	for i := range features {
		features[i] = benchFeature(b, i)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Put(features[i]); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
}

func BenchmarkLooseStoreGetRecord(b *testing.B) {
	s := NewLooseStore(osfs.New(filepath.Join(b.TempDir(), "store")))
	id, err := s.Put(benchFeature(b, 1))
	if err != nil {
		b.Fatalf("Put: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.GetRecord(id); err != nil {
			b.Fatalf("GetRecord: %v", err)
		}
	}
}

func BenchmarkEncodeTree(b *testing.B) {
	entries := make([]TreeEntry, 0, 512)
	for i := 0; i < cap(entries); i++ {
		entries = append(entries, TreeEntry{
			Name:   fmt.Sprintf("road.%04d", i),
			Type:   TypeFeature,
			ID:     HashObject(TypeFeature, []byte{byte(i), byte(i >> 8)}),
			Bounds: &Envelope{MinX: float64(i), MaxX: float64(i) + 1, MinY: 0, MaxY: 1},
		})
	}
	tree := NewTree(uint64(len(entries)), entries...)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := Encode(tree)
		if err != nil {
			b.Fatalf("Encode: %v", err)
		}
		if _, err := Decode(data); err != nil {
			b.Fatalf("Decode: %v", err)
		}
	}
}
