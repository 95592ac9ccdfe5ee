// Package repotest builds throwaway repositories with small commit
// histories for tests.
package repotest

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
)

// Layer is the layer name every fixture commit writes.
const Layer = "roads"

// Roads is the feature type of the fixture layer.
var Roads = &object.FeatureType{Name: Layer, Attributes: []object.AttributeDescriptor{
	{Name: "geom", Binding: object.FieldGeometry, Nullable: true, CRS: "EPSG:4326"},
	{Name: "name", Binding: object.FieldString, Nullable: true},
	{Name: "lanes", Binding: object.FieldInt32},
}}

// Author is a fixed identity so equal content hashes equally across
// repositories.
var Author = object.Person{Name: "Ada", Email: "ada@example.com", Timestamp: 1700000000000}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New initializes an in-memory repository.
func New(t testing.TB) *repo.Repo {
	t.Helper()
	r, err := repo.Init(memfs.New(), repo.Options{Logger: Logger()})
	require.NoError(t, err)
	return r
}

// NewOnDisk initializes a repository under a temporary directory. Use it
// for tests that touch the repository from several goroutines.
func NewOnDisk(t testing.TB) *repo.Repo {
	t.Helper()
	r, err := repo.Init(osfs.New(filepath.Join(t.TempDir(), repo.DirName)), repo.Options{Logger: Logger()})
	require.NoError(t, err)
	return r
}

// Feature builds a fixture feature.
func Feature(t testing.TB, name string, lanes int32) *object.Feature {
	t.Helper()
	f, err := object.NewFeature(&object.Geometry{SRID: 4326, WKB: []byte{0x01, 0x01, byte(lanes)}}, name, lanes)
	require.NoError(t, err)
	return f
}

// Commit replaces the fixture layer with features and commits it on HEAD.
func Commit(t testing.TB, r *repo.Repo, message string, features map[string]*object.Feature) object.ID {
	t.Helper()
	base := object.NullID
	if head, err := r.HeadCommit(); err == nil {
		c, err := r.ReadCommit(head)
		require.NoError(t, err)
		base = c.Tree
	}
	tree, err := r.PutLayer(base, Layer, Roads, features)
	require.NoError(t, err)
	id, err := r.CommitTree(tree, message, Author)
	require.NoError(t, err)
	return id
}

// Chain appends n commits to HEAD, each adding one distinct feature, and
// returns their ids oldest first.
func Chain(t testing.TB, r *repo.Repo, n int) []object.ID {
	t.Helper()
	ids := make([]object.ID, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("road.%d", i)
		ids = append(ids, Commit(t, r, fmt.Sprintf("commit %d", i), map[string]*object.Feature{
			name: Feature(t, name, int32(i%6+1)),
		}))
	}
	return ids
}

// Copy copies the closure of tip from src into dst and points ref at tip.
func Copy(t testing.TB, src, dst *repo.Repo, ref string, tip object.ID) {
	t.Helper()
	ids, err := object.ReachableSet(src.Objects, []object.ID{tip})
	require.NoError(t, err)
	for id := range ids {
		rec, err := src.Objects.GetRecord(id)
		require.NoError(t, err)
		require.NoError(t, dst.Objects.PutRecord(rec))
	}
	require.NoError(t, dst.Refs.Update(ref, tip))
}
