package transfer

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/remote"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/repo/repotest"
)

type sessionFactory func(t *testing.T, r *repo.Repo) remote.Session

func sessionFactories() map[string]sessionFactory {
	return map[string]sessionFactory{
		"local": func(t *testing.T, r *repo.Repo) remote.Session {
			return remote.NewLocalSession(r)
		},
		"http": func(t *testing.T, r *repo.Repo) remote.Session {
			ts := httptest.NewServer(remote.NewServer(r, remote.ServerOptions{Logger: repotest.Logger()}))
			t.Cleanup(ts.Close)
			sess, err := remote.NewHTTPSession(context.Background(), ts.URL, remote.ClientOptions{Backoff: time.Millisecond, Logger: repotest.Logger()})
			require.NoError(t, err)
			return sess
		},
	}
}

// countingSession records what crosses the session.
type countingSession struct {
	remote.Session

	mu      sync.Mutex
	begins  int
	sent    int
	batches int
	exists  int
	aborts  int
	closes  int
}

func (c *countingSession) BeginPush(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.begins++
	c.mu.Unlock()
	return c.Session.BeginPush(ctx)
}

func (c *countingSession) SendObjects(ctx context.Context, tx string, recs []object.Record) error {
	c.mu.Lock()
	c.sent += len(recs)
	c.batches++
	c.mu.Unlock()
	return c.Session.SendObjects(ctx, tx, recs)
}

func (c *countingSession) Exists(ctx context.Context, ids []object.ID) ([]bool, error) {
	c.mu.Lock()
	c.exists++
	c.mu.Unlock()
	return c.Session.Exists(ctx, ids)
}

func (c *countingSession) AbortPush(ctx context.Context, tx string) error {
	c.mu.Lock()
	c.aborts++
	c.mu.Unlock()
	return c.Session.AbortPush(ctx, tx)
}

func (c *countingSession) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Session.Close()
}

// dialTo returns a DialFunc that serves every URL from r and records the
// opened sessions.
func dialTo(r *repo.Repo, opened *[]*countingSession) DialFunc {
	return func(context.Context, string) (remote.Session, error) {
		sess := &countingSession{Session: remote.NewLocalSession(r)}
		if opened != nil {
			*opened = append(*opened, sess)
		}
		return sess, nil
	}
}

func closureOf(t *testing.T, r *repo.Repo, tip object.ID) map[object.ID]struct{} {
	t.Helper()
	ids, err := object.ReachableSet(r.Objects, []object.ID{tip})
	require.NoError(t, err)
	return ids
}

// shallowCopy copies the given commits with their trees, but none of their
// other ancestors, into dst, marks dst shallow and points ref at the first
// commit.
func shallowCopy(t *testing.T, src, dst *repo.Repo, depth int, ref string, commits ...object.ID) {
	t.Helper()
	for _, id := range commits {
		c, err := src.ReadCommit(id)
		require.NoError(t, err)
		for tid := range closureOf(t, src, c.Tree) {
			rec, err := src.Objects.GetRecord(tid)
			require.NoError(t, err)
			require.NoError(t, dst.Objects.PutRecord(rec))
		}
		rec, err := src.Objects.GetRecord(id)
		require.NoError(t, err)
		require.NoError(t, dst.Objects.PutRecord(rec))
	}
	require.NoError(t, dst.UpdateConfig(func(cfg *repo.Config) error {
		cfg.Core.Depth = depth
		return nil
	}))
	require.NoError(t, dst.Refs.Update(ref, commits[0]))
}

func setDepth(t *testing.T, r *repo.Repo, depth int) {
	t.Helper()
	require.NoError(t, r.UpdateConfig(func(cfg *repo.Config) error {
		cfg.Core.Depth = depth
		return nil
	}))
}

func openTransactions(t *testing.T, r *repo.Repo) int {
	t.Helper()
	entries, err := r.FS.ReadDir("transactions")
	require.NoError(t, err)
	return len(entries)
}

func refID(t *testing.T, r *repo.Repo, name string) object.ID {
	t.Helper()
	ref, err := r.Refs.Resolve(name)
	require.NoError(t, err)
	return ref.ID
}

func testEngine(r *repo.Repo, opts Options) *Engine {
	opts.Logger = repotest.Logger()
	return NewEngine(r, opts)
}
