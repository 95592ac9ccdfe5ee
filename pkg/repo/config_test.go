package repo_test

import (
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/repo/repotest"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func TestConfigRemoteRoundTrip(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.SetRemote("origin", "https://example.com/geogig/roads"))

	rm, err := r.Remote("origin")
	require.NoError(t, err)
	assert.Equal(t, repo.Remote{
		Name:     "origin",
		FetchURL: "https://example.com/geogig/roads",
		PushURL:  "https://example.com/geogig/roads",
		Fetch:    "+refs/heads/*:refs/remotes/origin/*",
	}, rm)

	require.NoError(t, r.SetPushURL("origin", "https://push.example.com/roads"))
	rm, err = r.Remote("origin")
	require.NoError(t, err)
	assert.Equal(t, "https://push.example.com/roads", rm.PushURL)
	assert.Equal(t, "https://example.com/geogig/roads", rm.FetchURL)

	require.NoError(t, r.SetRemote("backup", "/srv/backup"))
	remotes, err := r.Remotes()
	require.NoError(t, err)
	require.Len(t, remotes, 2)
	assert.Equal(t, "backup", remotes[0].Name)
	assert.Equal(t, "origin", remotes[1].Name)
}

func TestConfigUnknownRemote(t *testing.T) {
	r := repotest.New(t)
	_, err := r.Remote("origin")
	assert.Equal(t, status.NotFound, status.Of(err))

	assert.Equal(t, status.InvalidArgument, status.Of(r.SetRemote("bad/name", "x")))
	assert.Equal(t, status.InvalidArgument, status.Of(r.SetRemote("origin", " ")))
}

func TestRemoveRemoteDeletesTrackingRefs(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.SetRemote("origin", "/srv/roads"))
	require.NoError(t, r.Refs.Update("refs/remotes/origin/master", idOf(1)))
	require.NoError(t, r.Refs.Update("refs/remotes/other/master", idOf(2)))

	require.NoError(t, r.RemoveRemote("origin"))

	_, err := r.Refs.Read("refs/remotes/origin/master")
	assert.Equal(t, status.NotFound, status.Of(err))
	_, err = r.Refs.Read("refs/remotes/other/master")
	assert.NoError(t, err)

	assert.Equal(t, status.NotFound, status.Of(r.RemoveRemote("origin")))
}

func TestConfigDepthAndDefaults(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.UpdateConfig(func(cfg *repo.Config) error {
		cfg.Core.Depth = 3
		cfg.Transfer.BatchObjects = -1
		cfg.User.Name = "Ada"
		return nil
	}))

	depth, err := r.Depth()
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	cfg, err := r.ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, repo.DefaultBatchObjects, cfg.Transfer.BatchObjects)
	assert.Equal(t, "Ada", cfg.User.Name)
}

func TestReadConfigMissingReturnsDefaults(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.FS.Remove("config.toml"))

	cfg, err := r.ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, repo.DefaultConfig(), cfg)
}

func TestReadConfigRejectsGarbage(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, util.WriteFile(r.FS, "config.toml", []byte("core = [[["), 0o644))

	_, err := r.ReadConfig()
	assert.Equal(t, status.InvalidArgument, status.Of(err))
}

func TestTrackingRefMapping(t *testing.T) {
	rm := repo.Remote{Name: "origin", Fetch: repo.DefaultFetchSpec("origin")}

	ref, ok := rm.TrackingRef("refs/heads/feature/x")
	require.True(t, ok)
	assert.Equal(t, "refs/remotes/origin/feature/x", ref)

	_, ok = rm.TrackingRef("refs/tags/v1")
	assert.False(t, ok)

	assert.Equal(t, "refs/remotes/origin/master", rm.BranchTrackingRef("master"))
	assert.Equal(t, "refs/remotes/origin/master", rm.BranchTrackingRef("refs/heads/master"))

	custom := repo.Remote{Name: "up", Fetch: "refs/heads/master:refs/remotes/up/main"}
	assert.Equal(t, "refs/remotes/up/main", custom.BranchTrackingRef("master"))
	assert.Equal(t, "refs/remotes/up/dev", custom.BranchTrackingRef("dev"))

	assert.Equal(t, "master", repo.ShortName("refs/heads/master"))
	assert.Equal(t, "origin/master", repo.ShortName("refs/remotes/origin/master"))
}
