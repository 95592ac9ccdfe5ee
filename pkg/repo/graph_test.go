package repo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/repo/repotest"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func TestAncestorDepth(t *testing.T) {
	r := repotest.New(t)
	ids := repotest.Chain(t, r, 4)

	for i, id := range ids {
		d, err := r.AncestorDepth(id)
		require.NoError(t, err)
		assert.Equal(t, i, d)
	}

	_, err := r.AncestorDepth(idOf(5))
	assert.Equal(t, status.NotFound, status.Of(err))

	// cut history below ids[1]
	require.NoError(t, r.Objects.Delete(ids[0]))
	d, err := r.AncestorDepth(ids[3])
	require.NoError(t, err)
	assert.Equal(t, 2, d)
	d, err = r.AncestorDepth(ids[1])
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestIsAncestor(t *testing.T) {
	r := repotest.New(t)
	ids := repotest.Chain(t, r, 3)
	require.NoError(t, r.Checkout("master"))
	require.NoError(t, r.CreateBranch("side", ids[0]))
	require.NoError(t, r.Checkout("side"))
	side := repotest.Commit(t, r, "side", map[string]*object.Feature{"s": repotest.Feature(t, "s", 2)})

	ok, err := r.IsAncestor(ids[0], ids[2])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestor(ids[2], ids[2])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestor(ids[2], ids[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsAncestor(side, ids[2])
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Objects.Delete(ids[0]))
	_, err = r.IsAncestor(side, ids[2])
	assert.Equal(t, status.HistoryTooShallow, status.Of(err))
	ok, err = r.IsAncestor(ids[1], ids[2])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLog(t *testing.T) {
	r := repotest.New(t)
	ids := repotest.Chain(t, r, 4)

	commits, logIDs, err := r.Log(ids[3], 0)
	require.NoError(t, err)
	assert.Equal(t, []object.ID{ids[3], ids[2], ids[1], ids[0]}, logIDs)
	assert.Equal(t, "commit 3", commits[0].Message)

	_, logIDs, err = r.Log(ids[3], 2)
	require.NoError(t, err)
	assert.Equal(t, []object.ID{ids[3], ids[2]}, logIDs)

	require.NoError(t, r.Objects.Delete(ids[1]))
	_, logIDs, err = r.Log(ids[3], 0)
	require.NoError(t, err)
	assert.Equal(t, []object.ID{ids[3], ids[2]}, logIDs)
}

func TestManifest(t *testing.T) {
	r := repotest.New(t)
	ids := repotest.Chain(t, r, 2)
	require.NoError(t, r.CreateBranch("dev", ids[0]))
	tagID, err := r.CreateTag("v1", ids[1], "m", repotest.Author, false)
	require.NoError(t, err)
	require.NoError(t, r.UpdateConfig(func(cfg *repo.Config) error {
		cfg.Core.Depth = 5
		return nil
	}))

	m, err := r.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/master", m.Head)
	assert.Equal(t, 5, m.Depth)
	assert.Equal(t, []repo.Ref{
		{Name: "refs/heads/dev", ID: ids[0]},
		{Name: "refs/heads/master", ID: ids[1]},
		{Name: "refs/tags/v1", ID: tagID},
	}, m.Refs)

	id, ok := m.Lookup("refs/heads/dev")
	assert.True(t, ok)
	assert.Equal(t, ids[0], id)
	_, ok = m.Lookup("refs/heads/none")
	assert.False(t, ok)
}
