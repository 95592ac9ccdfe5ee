package repo_test

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/repo/repotest"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// records returns the closure of tip in src that dst lacks.
func records(t *testing.T, src, dst *repo.Repo, tip object.ID) []object.Record {
	t.Helper()
	ids, err := object.ReachableSet(src.Objects, []object.ID{tip})
	require.NoError(t, err)
	var recs []object.Record
	for id := range ids {
		if dst.Objects.Has(id) {
			continue
		}
		rec, err := src.Objects.GetRecord(id)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestTransactionCommitPublishesObjectsAndRef(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 3)
	dst := repotest.New(t)

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	recs := records(t, src, dst, ids[2])
	n, err := dst.StageObjects(tx.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, len(recs), n)

	// staged objects stay invisible until commit
	for _, rec := range recs {
		assert.False(t, dst.Objects.Has(rec.ID))
	}

	require.NoError(t, dst.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[2]))
	for _, rec := range recs {
		assert.True(t, dst.Objects.Has(rec.ID))
	}
	head, err := dst.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, ids[2], head)

	_, err = dst.Transaction(tx.ID)
	assert.Equal(t, status.Aborted, status.Of(err))
}

func TestTransactionMissingObjectsAborts(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 2)
	dst := repotest.New(t)

	recs := records(t, src, dst, ids[1])
	var partial []object.Record
	for _, rec := range recs {
		if rec.Type == object.TypeFeature {
			continue
		}
		partial = append(partial, rec)
	}

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	_, err = dst.StageObjects(tx.ID, partial)
	require.NoError(t, err)

	err = dst.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[1])
	require.Equal(t, status.Aborted, status.Of(err))
	assert.NotEmpty(t, status.Details(err)["missing"])

	_, err = dst.Refs.Read("refs/heads/master")
	assert.Equal(t, status.NotFound, status.Of(err))
	for _, rec := range partial {
		assert.False(t, dst.Objects.Has(rec.ID))
	}
}

func TestTransactionShallowToleratesMissingParents(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 3)

	full := repotest.New(t)
	shallow := repotest.New(t)
	require.NoError(t, shallow.UpdateConfig(func(cfg *repo.Config) error {
		cfg.Core.Depth = 1
		return nil
	}))

	var recs []object.Record
	for _, rec := range records(t, src, full, ids[2]) {
		if rec.ID == ids[1] || rec.ID == ids[0] {
			continue
		}
		recs = append(recs, rec)
	}

	for _, r := range []*repo.Repo{full, shallow} {
		tx, err := r.BeginTransaction()
		require.NoError(t, err)
		_, err = r.StageObjects(tx.ID, recs)
		require.NoError(t, err)
		err = r.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[2])
		if r == full {
			assert.Equal(t, status.Aborted, status.Of(err))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestTransactionCompareAndSwapConflict(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 2)
	dst := repotest.New(t)
	repotest.Copy(t, src, dst, "refs/heads/master", ids[0])

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	recs := records(t, src, dst, ids[1])
	_, err = dst.StageObjects(tx.ID, recs)
	require.NoError(t, err)

	err = dst.CommitTransaction(tx.ID, "refs/heads/master", idOf(9), ids[1])
	assert.Equal(t, status.Conflict, status.Of(err))
	assert.False(t, dst.Objects.Has(ids[1]))

	head, err := dst.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, ids[0], head)

	// the transaction is gone either way
	_, err = dst.StageObjects(tx.ID, recs)
	assert.Equal(t, status.Aborted, status.Of(err))
}

func TestStageRejectsCorruptRecord(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 1)
	dst := repotest.New(t)

	rec, err := src.Objects.GetRecord(ids[0])
	require.NoError(t, err)
	rec.ID = idOf(4)

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	_, err = dst.StageObjects(tx.ID, []object.Record{rec})
	assert.Equal(t, status.MalformedObject, status.Of(err))
}

func TestAbortAndPruneTransactions(t *testing.T) {
	r := repotest.NewOnDisk(t)

	tx, err := r.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, r.AbortTransaction(tx.ID))
	require.NoError(t, r.AbortTransaction(tx.ID))
	assert.Equal(t, status.InvalidArgument, status.Of(r.AbortTransaction("../objects")))

	old, err := r.BeginTransaction()
	require.NoError(t, err)
	fresh, err := r.BeginTransaction()
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(r.FS.Join(r.Path(), "transactions", old.ID), past, past))

	n, err := r.PruneTransactions(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.Transaction(old.ID)
	assert.Equal(t, status.Aborted, status.Of(err))
	_, err = r.Transaction(fresh.ID)
	assert.NoError(t, err)
}

// shortStore accepts a fixed number of writes and then fails.
type shortStore struct {
	object.Store
	left int
}

func (s *shortStore) PutRecord(rec object.Record) error {
	if s.left == 0 {
		return errors.New("no space left on device")
	}
	s.left--
	return s.Store.PutRecord(rec)
}

// refRenameFS refuses to rename anything onto a ref.
type refRenameFS struct {
	billy.Filesystem
}

func (fs refRenameFS) Rename(from, to string) error {
	if strings.HasPrefix(to, repo.RefsPrefix) {
		return errors.New("read-only refs")
	}
	return fs.Filesystem.Rename(from, to)
}

func TestTransactionPartialPublishIsRolledBack(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 2)
	dst := repotest.New(t)

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	recs := records(t, src, dst, ids[1])
	require.Greater(t, len(recs), 2)
	_, err = dst.StageObjects(tx.ID, recs)
	require.NoError(t, err)

	stored := dst.Objects
	dst.Objects = &shortStore{Store: stored, left: 2}
	err = dst.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[1])
	require.Error(t, err)
	dst.Objects = stored

	for _, rec := range recs {
		assert.False(t, stored.Has(rec.ID), "object %s still visible", rec.ID.Short())
	}
	_, err = dst.Refs.Read("refs/heads/master")
	assert.Equal(t, status.NotFound, status.Of(err))
}

func TestTransactionFailedRefWriteIsRolledBack(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 2)

	mem := memfs.New()
	_, err := repo.Init(mem, repo.Options{Logger: repotest.Logger()})
	require.NoError(t, err)
	dst, err := repo.Open(refRenameFS{mem}, repo.Options{Logger: repotest.Logger()})
	require.NoError(t, err)

	tx, err := dst.BeginTransaction()
	require.NoError(t, err)
	recs := records(t, src, dst, ids[1])
	_, err = dst.StageObjects(tx.ID, recs)
	require.NoError(t, err)

	err = dst.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[1])
	require.Error(t, err)
	assert.NotEqual(t, status.Conflict, status.Of(err))

	for _, rec := range recs {
		assert.False(t, dst.Objects.Has(rec.ID), "object %s still visible", rec.ID.Short())
	}
	_, err = dst.Refs.Read("refs/heads/master")
	assert.Equal(t, status.NotFound, status.Of(err))
	_, err = mem.Stat("refs/heads/master.lock")
	assert.True(t, errors.Is(err, os.ErrNotExist), "lock released")
}

func TestPruneKeepsTransactionsReceivingObjects(t *testing.T) {
	src := repotest.New(t)
	ids := repotest.Chain(t, src, 2)
	r := repotest.NewOnDisk(t)

	tx, err := r.BeginTransaction()
	require.NoError(t, err)
	recs := records(t, src, r, ids[1])
	_, err = r.StageObjects(tx.ID, recs[:1])
	require.NoError(t, err)

	// staging writes do not move the directory mtime
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(r.FS.Join(r.Path(), "transactions", tx.ID), past, past))

	n, err := r.PruneTransactions(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = r.StageObjects(tx.ID, recs[1:])
	require.NoError(t, err)
	require.NoError(t, r.CommitTransaction(tx.ID, "refs/heads/master", object.NullID, ids[1]))
	assert.True(t, r.Objects.Has(ids[1]))
}
