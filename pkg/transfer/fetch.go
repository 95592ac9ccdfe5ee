package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/remote"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// FetchOptions configures Fetch.
type FetchOptions struct {
	// Remote is a configured remote name; empty means "origin".
	Remote string
	// Prune deletes tracking refs whose remote branch is gone.
	Prune        bool
	Dial         DialFunc
	BatchObjects int
	Logger       *slog.Logger
}

// TrackingUpdate is one local ref moved by a fetch.
type TrackingUpdate struct {
	Ref       string
	RemoteRef string
	Old       object.ID
	New       object.ID
}

// FetchResult summarizes a fetch.
type FetchResult struct {
	Remote string
	// Head is the branch the remote HEAD points at, if any.
	Head    string
	Updated []TrackingUpdate
	Pruned  []string
	Objects int
}

// Fetch copies the remote's branches into their tracking refs and creates
// tags the local repository lacks. Each ref's objects are staged in a local
// transaction that commits together with the ref update, so a failed fetch
// leaves no partial history behind.
func Fetch(ctx context.Context, r *repo.Repo, opts FetchOptions) (*FetchResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = r.Logger()
	}
	name := strings.TrimSpace(opts.Remote)
	if name == "" {
		name = "origin"
	}
	rm, err := r.Remote(name)
	if err != nil {
		return nil, err
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	batch := opts.BatchObjects
	if batch <= 0 {
		batch = cfg.Transfer.BatchObjects
	}

	res := &FetchResult{Remote: rm.Name}
	err = remote.WithSession(ctx, logger, dialer(opts.Dial, rm.FetchURL, logger), func(sess remote.Session) error {
		m, err := sess.Manifest(ctx)
		if err != nil {
			return err
		}
		res.Head = m.Head
		f := &fetcher{repo: r, sess: sess, batch: batch, depth: cfg.Core.Depth, logger: logger}

		mapped := make(map[string]struct{})
		for _, ref := range m.Refs {
			switch {
			case strings.HasPrefix(ref.Name, repo.BranchPrefix):
				tracking, ok := rm.TrackingRef(ref.Name)
				if !ok {
					continue
				}
				mapped[tracking] = struct{}{}
				old, err := readID(r, tracking)
				if err != nil {
					return err
				}
				if old == ref.ID {
					continue
				}
				n, err := f.fetchRef(ctx, ref.ID, tracking, old)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", ref.Name, err)
				}
				res.Objects += n
				res.Updated = append(res.Updated, TrackingUpdate{Ref: tracking, RemoteRef: ref.Name, Old: old, New: ref.ID})
			case strings.HasPrefix(ref.Name, repo.TagPrefix):
				old, err := readID(r, ref.Name)
				if err != nil {
					return err
				}
				if old == ref.ID {
					continue
				}
				if !old.IsNull() {
					logger.Warn("local tag differs from remote, keeping local", "tag", ref.Name, "local", old, "remote", ref.ID)
					continue
				}
				n, err := f.fetchRef(ctx, ref.ID, ref.Name, object.NullID)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", ref.Name, err)
				}
				res.Objects += n
				res.Updated = append(res.Updated, TrackingUpdate{Ref: ref.Name, RemoteRef: ref.Name, New: ref.ID})
			}
		}

		if opts.Prune {
			stale, err := r.Refs.List(repo.RemotePrefix + rm.Name + "/")
			if err != nil {
				return err
			}
			for _, ref := range stale {
				if _, ok := mapped[ref.Name]; ok {
					continue
				}
				if err := r.Refs.Delete(ref.Name); err != nil && !status.Is(err, status.NotFound) {
					return err
				}
				res.Pruned = append(res.Pruned, ref.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("fetched", "remote", rm.Name, "refs", len(res.Updated), "objects", res.Objects)
	return res, nil
}

func readID(r *repo.Repo, name string) (object.ID, error) {
	ref, err := r.Refs.Resolve(name)
	if err != nil {
		if status.Is(err, status.NotFound) {
			return object.NullID, nil
		}
		return object.NullID, err
	}
	return ref.ID, nil
}

type fetcher struct {
	repo   *repo.Repo
	sess   remote.Session
	batch  int
	depth  int
	logger *slog.Logger
}

// fetchRef downloads what tip needs and moves ref from expectedOld to tip.
// It returns the number of objects stored.
func (f *fetcher) fetchRef(ctx context.Context, tip object.ID, ref string, expectedOld object.ID) (int, error) {
	if f.repo.Objects.Has(tip) {
		err := f.repo.Refs.CompareAndSwap(ref, expectedOld, tip, "fetch", nil)
		if !isRefUpdated(err) {
			return 0, err
		}
		return 0, nil
	}

	tx, err := f.repo.BeginTransaction()
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := f.repo.AbortTransaction(tx.ID); err != nil {
				f.logger.Warn("discarding fetch transaction failed", "transaction", tx.ID, "error", err)
			}
		}
	}()

	have := func(id object.ID) bool {
		return f.repo.Objects.Has(id) || tx.Objects.Has(id)
	}
	staged := 0

	// Commits, breadth first, bounded by the repository depth.
	var contents []object.ID
	frontier := []object.ID{tip}
	for generation := 1; len(frontier) > 0; generation++ {
		objs, absent, n, err := f.download(ctx, tx.ID, frontier)
		if err != nil {
			return 0, err
		}
		staged += n
		if len(absent) > 0 {
			if absent[0] == tip {
				return 0, status.WithDetails(status.NotFound, "remote advertised an object it cannot serve", map[string]string{"id": tip.String()})
			}
			if f.depth <= 0 {
				return 0, status.WithDetails(status.HistoryTooShallow, "remote history is shallow", map[string]string{
					"missing": absent[0].String(),
					"count":   fmt.Sprint(len(absent)),
				})
			}
		}

		var next []object.ID
		for _, obj := range objs {
			switch o := obj.(type) {
			case *object.Commit:
				contents = append(contents, o.Tree)
				if f.depth > 0 && generation >= f.depth {
					continue
				}
				next = append(next, o.Parents...)
			case *object.Tag:
				next = append(next, o.Commit)
			}
		}
		frontier = frontier[:0]
		for _, id := range object.UniqueIDs(next) {
			if !have(id) {
				frontier = append(frontier, id)
			}
		}
	}

	// Trees, features and feature types.
	for len(contents) > 0 {
		var want []object.ID
		for _, id := range object.UniqueIDs(contents) {
			if !have(id) {
				want = append(want, id)
			}
		}
		objs, absent, n, err := f.download(ctx, tx.ID, want)
		if err != nil {
			return 0, err
		}
		staged += n
		if len(absent) > 0 {
			return 0, status.WithDetails(status.NotFound, "remote is missing objects", map[string]string{
				"missing": absent[0].String(),
				"count":   fmt.Sprint(len(absent)),
			})
		}
		contents = contents[:0]
		for _, obj := range objs {
			contents = append(contents, object.References(obj)...)
		}
	}

	committed = true
	if err := f.repo.CommitTransaction(tx.ID, ref, expectedOld, tip); !isRefUpdated(err) {
		return 0, err
	}
	f.logger.Debug("ref fetched", "ref", ref, "old", expectedOld, "new", tip, "objects", staged)
	return staged, nil
}

// download fetches ids in batches and stages them. It returns the decoded
// objects and the ids the remote did not return.
func (f *fetcher) download(ctx context.Context, txID string, ids []object.ID) ([]object.Object, []object.ID, int, error) {
	var (
		objs   []object.Object
		absent []object.ID
		staged int
	)
	for start := 0; start < len(ids); start += f.batch {
		chunk := ids[start:min(start+f.batch, len(ids))]
		recs, err := f.sess.FetchObjects(ctx, chunk)
		if err != nil {
			return nil, nil, 0, err
		}
		n, err := f.repo.StageObjects(txID, recs)
		if err != nil {
			return nil, nil, 0, err
		}
		staged += n
		got := make(map[object.ID]struct{}, len(recs))
		for _, rec := range recs {
			obj, err := rec.Decode()
			if err != nil {
				return nil, nil, 0, err
			}
			got[rec.ID] = struct{}{}
			objs = append(objs, obj)
		}
		for _, id := range chunk {
			if _, ok := got[id]; !ok {
				absent = append(absent, id)
			}
		}
	}
	return objs, absent, staged, nil
}

// PullOptions configures Pull.
type PullOptions struct {
	Remote string
	// Branch is the local branch to update; empty means the current one.
	Branch string
	Dial   DialFunc
	Logger *slog.Logger
}

// PullResult reports what Pull did to the local branch.
type PullResult struct {
	Fetch       *FetchResult
	Branch      string
	Old         object.ID
	New         object.ID
	FastForward bool
}

// Pull fetches and fast-forwards a local branch to its tracking ref. A
// branch that has diverged from the remote fails with CONFLICT.
func Pull(ctx context.Context, r *repo.Repo, opts PullOptions) (*PullResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = r.Logger()
	}
	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		cur, err := r.CurrentBranch()
		if err != nil {
			return nil, err
		}
		branch = cur
	}
	if !strings.HasPrefix(branch, repo.RefsPrefix) {
		branch = repo.BranchPrefix + branch
	}

	fetched, err := Fetch(ctx, r, FetchOptions{Remote: opts.Remote, Dial: opts.Dial, Logger: logger})
	if err != nil {
		return nil, err
	}
	rm, err := r.Remote(fetched.Remote)
	if err != nil {
		return nil, err
	}
	tracking := rm.BranchTrackingRef(branch)
	remoteID, err := readID(r, tracking)
	if err != nil {
		return nil, err
	}
	if remoteID.IsNull() {
		return nil, status.WithDetails(status.NotFound, "remote branch not found", map[string]string{"branch": repo.ShortName(branch), "remote": rm.Name})
	}
	localID, err := readID(r, branch)
	if err != nil {
		return nil, err
	}

	res := &PullResult{Fetch: fetched, Branch: branch, Old: localID, New: localID}
	if localID == remoteID {
		return res, nil
	}
	if !localID.IsNull() {
		ff, err := r.IsAncestor(localID, remoteID)
		if err != nil && !status.Is(err, status.HistoryTooShallow) {
			return nil, err
		}
		if !ff {
			ahead, aerr := r.IsAncestor(remoteID, localID)
			if aerr == nil && ahead {
				return res, nil
			}
			if err != nil {
				return nil, err
			}
			if aerr != nil && !status.Is(aerr, status.HistoryTooShallow) {
				return nil, aerr
			}
			return nil, status.WithDetails(status.Conflict, "branches have diverged; pull only fast-forwards", map[string]string{
				"branch": repo.ShortName(branch),
				"local":  localID.String(),
				"remote": remoteID.String(),
			})
		}
	}
	if err := r.Refs.CompareAndSwap(branch, localID, remoteID, "pull: fast-forward", nil); !isRefUpdated(err) {
		return nil, err
	}
	res.New = remoteID
	res.FastForward = true
	logger.Info("fast-forwarded", "branch", branch, "old", localID, "new", remoteID)
	return res, nil
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// Branch to check out; defaults to the remote HEAD, then master.
	Branch string
	// Depth keeps only that many generations of history; 0 is full.
	Depth  int
	Dial   DialFunc
	Logger *slog.Logger
}

// Clone creates a repository at path with an "origin" remote, fetches it
// and checks out the default branch. The metadata directory is removed
// again if any step fails.
func Clone(ctx context.Context, rawURL, path string, opts CloneOptions) (r *repo.Repo, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Depth < 0 {
		return nil, status.Errorf(status.InvalidArgument, "clone: negative depth %d", opts.Depth)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if !strings.Contains(rawURL, "://") {
		if p, perr := filepath.Abs(rawURL); perr == nil {
			rawURL = p
		}
	}

	r, err = repo.InitAt(abs, repo.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rerr := os.RemoveAll(filepath.Join(abs, repo.DirName)); rerr != nil {
				logger.Warn("removing failed clone", "path", abs, "error", rerr)
			}
			r = nil
		}
	}()

	if opts.Depth > 0 {
		if err := r.UpdateConfig(func(cfg *repo.Config) error {
			cfg.Core.Depth = opts.Depth
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if err := r.SetRemote("origin", rawURL); err != nil {
		return nil, err
	}
	fetched, err := Fetch(ctx, r, FetchOptions{Remote: "origin", Dial: opts.Dial, Logger: logger})
	if err != nil {
		return nil, err
	}
	rm, err := r.Remote("origin")
	if err != nil {
		return nil, err
	}

	branch := chooseBranch(opts.Branch, fetched)
	if branch == "" {
		logger.Info("cloned an empty repository", "path", abs)
		return r, nil
	}
	id, err := readID(r, rm.BranchTrackingRef(branch))
	if err != nil {
		return nil, err
	}
	if id.IsNull() {
		return nil, status.WithDetails(status.NotFound, "remote branch not found", map[string]string{"branch": branch})
	}
	if err := r.CreateBranch(branch, id); err != nil {
		return nil, err
	}
	if err := r.Checkout(branch); err != nil {
		return nil, err
	}
	logger.Info("cloned", "path", abs, "branch", branch, "objects", fetched.Objects)
	return r, nil
}

// chooseBranch picks the branch a clone checks out.
func chooseBranch(requested string, fetched *FetchResult) string {
	if requested != "" {
		return repo.ShortName(requested)
	}
	var branches []string
	for _, u := range fetched.Updated {
		if strings.HasPrefix(u.RemoteRef, repo.BranchPrefix) {
			branches = append(branches, repo.ShortName(u.RemoteRef))
		}
	}
	if len(branches) == 0 {
		return ""
	}
	sort.Strings(branches)
	if strings.HasPrefix(fetched.Head, repo.BranchPrefix) {
		head := repo.ShortName(fetched.Head)
		if i := sort.SearchStrings(branches, head); i < len(branches) && branches[i] == head {
			return head
		}
	}
	if i := sort.SearchStrings(branches, repo.DefaultBranch); i < len(branches) && branches[i] == repo.DefaultBranch {
		return repo.DefaultBranch
	}
	return branches[0]
}
