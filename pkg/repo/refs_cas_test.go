package repo_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/repo/repotest"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func idOf(b byte) object.ID {
	var id object.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestCompareAndSwapConcurrentSingleWinner(t *testing.T) {
	r := repotest.NewOnDisk(t)
	base := idOf(0xaa)
	require.NoError(t, r.Refs.Update("refs/heads/main", base))

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	successCh := make(chan object.ID, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			next := idOf(byte(i + 1))
			if err := r.Refs.CompareAndSwap("refs/heads/main", base, next, "race", nil); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}(i)
	}
	wg.Wait()
	close(successCh)
	close(errCh)

	var winners []object.ID
	for id := range successCh {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)
	for err := range errCh {
		assert.Equal(t, status.Conflict, status.Of(err))
	}

	got, err := r.Refs.Read("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.ID)
}

func TestCompareAndSwapMismatchDetails(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.Refs.Update("refs/heads/main", idOf(1)))

	err := r.Refs.CompareAndSwap("refs/heads/main", idOf(2), idOf(3), "test", nil)
	require.Equal(t, status.Conflict, status.Of(err))
	details := status.Details(err)
	assert.Equal(t, idOf(2).String(), details["expected"])
	assert.Equal(t, idOf(1).String(), details["found"])

	got, err := r.Refs.Read("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, idOf(1), got.ID)
}

func TestNullExpectedRequiresAbsentRef(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.Refs.Update("refs/heads/topic", idOf(1), object.NullID))

	err := r.Refs.Update("refs/heads/topic", idOf(2), object.NullID)
	assert.Equal(t, status.Conflict, status.Of(err))
}

func TestCompareAndSwapPrepareFailureLeavesRef(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.Refs.Update("refs/heads/main", idOf(1)))

	boom := errors.New("boom")
	err := r.Refs.CompareAndSwap("refs/heads/main", idOf(1), idOf(2), "test", func() error { return boom })
	require.ErrorIs(t, err, boom)

	got, err := r.Refs.Read("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, idOf(1), got.ID)

	// lock released
	require.NoError(t, r.Refs.CompareAndSwap("refs/heads/main", idOf(1), idOf(2), "test", nil))
}

func TestCompareAndSwapRejectsSymbolicRef(t *testing.T) {
	r := repotest.New(t)
	err := r.Refs.CompareAndSwap(repo.HEAD, object.NullID, idOf(1), "test", nil)
	assert.Equal(t, status.Conflict, status.Of(err))
}

func TestLockedRefTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the lock timeout")
	}
	r := repotest.New(t)
	require.NoError(t, r.Refs.Update("refs/heads/main", idOf(1)))
	require.NoError(t, util.WriteFile(r.FS, "refs/heads/main.lock", nil, 0o644))

	err := r.Refs.Update("refs/heads/main", idOf(2))
	assert.Equal(t, status.Conflict, status.Of(err))
}

func TestReadResolveAndList(t *testing.T) {
	r := repotest.New(t)
	_, err := r.Refs.Resolve(repo.HEAD)
	assert.Equal(t, status.NotFound, status.Of(err), "unborn branch")

	require.NoError(t, r.Refs.Update("refs/heads/master", idOf(1)))
	require.NoError(t, r.Refs.Update("refs/heads/dev", idOf(2)))
	require.NoError(t, r.Refs.Update("refs/tags/v1", idOf(3)))

	head, err := r.Refs.Read(repo.HEAD)
	require.NoError(t, err)
	assert.True(t, head.IsSymbolic())
	assert.Equal(t, "refs/heads/master", head.Target)

	resolved, err := r.Refs.Resolve(repo.HEAD)
	require.NoError(t, err)
	assert.Equal(t, repo.Ref{Name: "refs/heads/master", ID: idOf(1)}, resolved)

	branches, err := r.Refs.List(repo.BranchPrefix)
	require.NoError(t, err)
	assert.Equal(t, []repo.Ref{
		{Name: "refs/heads/dev", ID: idOf(2)},
		{Name: "refs/heads/master", ID: idOf(1)},
	}, branches)

	_, err = r.Refs.Read("refs/heads/missing")
	require.Equal(t, status.NotFound, status.Of(err))
	assert.Equal(t, "refs/heads/missing", status.Details(err)["ref"])
}

func TestDeleteRef(t *testing.T) {
	r := repotest.New(t)
	require.NoError(t, r.Refs.Update("refs/heads/dev", idOf(2)))

	err := r.Refs.Delete("refs/heads/dev", idOf(9))
	assert.Equal(t, status.Conflict, status.Of(err))

	require.NoError(t, r.Refs.Delete("refs/heads/dev", idOf(2)))
	_, err = r.Refs.Read("refs/heads/dev")
	assert.Equal(t, status.NotFound, status.Of(err))

	err = r.Refs.Delete("refs/heads/dev")
	assert.Equal(t, status.NotFound, status.Of(err))
}

func TestValidateRefName(t *testing.T) {
	for _, name := range []string{"HEAD", "refs/heads/main", "refs/remotes/origin/feature/x"} {
		assert.NoError(t, repo.ValidateRefName(name), name)
	}
	for _, name := range []string{"", "main", "refs/heads/../x", "refs/heads/a b", "refs/heads/x.lock", "refs/heads/", "refs//x", "refs/heads/a:b"} {
		assert.Equal(t, status.InvalidArgument, status.Of(repo.ValidateRefName(name)), fmt.Sprintf("%q", name))
	}
}
