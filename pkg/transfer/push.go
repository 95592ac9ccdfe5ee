package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/remote"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// DialFunc opens a session to a remote URL or path.
type DialFunc func(ctx context.Context, rawURL string) (remote.Session, error)

// PushOptions configures Push. The value is read, never modified.
type PushOptions struct {
	// Remote is a configured remote name, a URL or a repository path.
	// Empty means "origin".
	Remote   string
	RefSpecs []string
	// All pushes every local branch when RefSpecs is empty.
	All   bool
	Force bool
	// Dial overrides how the remote is reached.
	Dial   DialFunc
	Engine Options
	// OnRef, when set, is called after each refspec completes.
	OnRef func(spec string, u *RefUpdate)
}

// target is one resolved refspec.
type target struct {
	localRef  string
	localID   object.ID
	remoteRef string
	force     bool
	delete    bool
}

// Push updates remote refs from local ones. Refspecs are resolved and
// pushed one at a time, in order; NOTHING_TO_PUSH is ignored and any other
// failure stops the push with a *RefSpecError, leaving later refspecs
// untouched and earlier ones pushed. It reports whether any remote ref
// was updated to new data; deletions do not count. Local HEAD is never
// modified.
func Push(ctx context.Context, r *repo.Repo, opts PushOptions) (bool, error) {
	logger := opts.Engine.Logger
	if logger == nil {
		logger = r.Logger()
	}
	rm, pushURL, err := resolveRemote(r, opts.Remote)
	if err != nil {
		return false, err
	}
	specs, err := refSpecs(r, opts)
	if err != nil {
		return false, err
	}
	engineOpts, err := withBatchDefaults(r, opts.Engine)
	if err != nil {
		return false, err
	}
	engineOpts.Logger = logger
	engine := NewEngine(r, engineOpts)

	changed := false
	err = remote.WithSession(ctx, logger, dialer(opts.Dial, pushURL, logger), func(sess remote.Session) error {
		for _, raw := range specs {
			spec, err := ParseRefSpec(raw)
			if err != nil {
				return &RefSpecError{RefSpec: raw, Err: err}
			}
			t, err := resolveTarget(r, spec)
			if err != nil {
				return &RefSpecError{RefSpec: raw, Err: err}
			}
			t.force = t.force || opts.Force

			u, err := pushTarget(ctx, r, engine, sess, rm, t, logger)
			if opts.OnRef != nil && u != nil {
				opts.OnRef(raw, u)
			}
			switch {
			case err == nil:
				// a deletion moves no data
				changed = changed || !t.delete
			case status.Is(err, status.NothingToPush):
				logger.Info("nothing to push", "ref", t.remoteRef)
			default:
				return &RefSpecError{RefSpec: raw, Err: err}
			}
		}
		return nil
	})
	return changed, err
}

func pushTarget(ctx context.Context, r *repo.Repo, engine *Engine, sess remote.Session, rm *repo.Remote, t target, logger *slog.Logger) (*RefUpdate, error) {
	if t.delete {
		if err := sess.DeleteRef(ctx, t.remoteRef); err != nil {
			if status.Is(err, status.NotFound) {
				logger.Info("remote ref already absent", "ref", t.remoteRef)
				return nil, status.Errorf(status.NothingToPush, "remote ref %s does not exist", t.remoteRef)
			}
			return nil, err
		}
		logger.Info("remote ref deleted", "ref", t.remoteRef)
		if tracking, ok := trackingRef(rm, t.remoteRef); ok {
			if err := r.Refs.Delete(tracking); err != nil && !status.Is(err, status.NotFound) {
				return nil, err
			}
		}
		return &RefUpdate{Ref: t.remoteRef, State: StateCommitted}, nil
	}

	u, err := engine.PushRef(ctx, sess, t.localID, t.remoteRef, t.force)
	if err != nil && !status.Is(err, status.NothingToPush) {
		return u, err
	}
	if u.Old == u.New || err == nil {
		if tracking, ok := trackingRef(rm, t.remoteRef); ok {
			if uerr := r.Refs.Update(tracking, t.localID); !isRefUpdated(uerr) {
				return u, fmt.Errorf("update tracking ref %s: %w", tracking, uerr)
			}
		}
	}
	if err == nil {
		logger.Info("pushed", "ref", t.remoteRef, "old", u.Old, "new", u.New, "objects", u.Objects)
	}
	return u, err
}

// refSpecs returns the refspecs to process, or the defaults when there
// are none.
func refSpecs(r *repo.Repo, opts PushOptions) ([]string, error) {
	if len(opts.RefSpecs) > 0 {
		return opts.RefSpecs, nil
	}
	if !opts.All {
		return []string{""}, nil
	}
	branches, err := r.ListBranches()
	if err != nil {
		return nil, err
	}
	specs := make([]string, 0, len(branches))
	for _, b := range branches {
		specs = append(specs, b.Name)
	}
	return specs, nil
}

func resolveTarget(r *repo.Repo, spec RefSpec) (target, error) {
	if spec.IsDelete() {
		name := spec.Remote
		if !strings.HasPrefix(name, repo.RefsPrefix) {
			name = repo.BranchPrefix + name
		}
		if err := repo.ValidateRefName(name); err != nil {
			return target{}, err
		}
		return target{remoteRef: name, delete: true}, nil
	}

	var (
		localRef string
		id       object.ID
		err      error
	)
	if spec.IsCurrentBranch() {
		localRef, err = r.CurrentBranch()
		if err != nil {
			return target{}, err
		}
		ref, err := r.Refs.Resolve(localRef)
		if err != nil {
			if status.Is(err, status.NotFound) {
				return target{}, status.Errorf(status.NoHead, "branch %s has no commits", repo.ShortName(localRef))
			}
			return target{}, err
		}
		id = ref.ID
	} else {
		localRef, id, err = resolveLocalRef(r, spec.Local)
		if err != nil {
			return target{}, err
		}
	}

	remoteRef := localRef
	if spec.Remote != "" && spec.Remote != spec.Local {
		remoteRef = spec.Remote
		if !strings.HasPrefix(remoteRef, repo.RefsPrefix) {
			prefix := repo.BranchPrefix
			if strings.HasPrefix(localRef, repo.TagPrefix) {
				prefix = repo.TagPrefix
			}
			remoteRef = prefix + remoteRef
		}
	}
	if err := repo.ValidateRefName(remoteRef); err != nil {
		return target{}, err
	}
	return target{localRef: localRef, localID: id, remoteRef: remoteRef, force: spec.Force}, nil
}

// resolveLocalRef finds a branch, tag or full ref name.
func resolveLocalRef(r *repo.Repo, name string) (string, object.ID, error) {
	candidates := []string{name}
	if !strings.HasPrefix(name, repo.RefsPrefix) {
		candidates = []string{repo.BranchPrefix + name, repo.TagPrefix + name}
	}
	for _, c := range candidates {
		if repo.ValidateRefName(c) != nil {
			continue
		}
		ref, err := r.Refs.Resolve(c)
		if err == nil {
			return c, ref.ID, nil
		}
		if !status.Is(err, status.NotFound) {
			return "", object.NullID, err
		}
	}
	return "", object.NullID, status.WithDetails(status.UnknownRef, "unknown ref", map[string]string{"ref": name})
}

// resolveRemote looks up a configured remote and its push URL. Anything
// else is taken as the URL or path of an unnamed remote, which has no
// tracking refs.
func resolveRemote(r *repo.Repo, arg string) (*repo.Remote, string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		arg = "origin"
	}
	rm, err := r.Remote(arg)
	if err == nil {
		return &rm, rm.PushURL, nil
	}
	if !status.Is(err, status.NotFound) {
		return nil, "", err
	}
	if !looksLikeLocation(arg) {
		return nil, "", err
	}
	return nil, arg, nil
}

func looksLikeLocation(s string) bool {
	if strings.HasPrefix(s, "file://") {
		return true
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return true
	}
	return filepath.IsAbs(s) || strings.HasPrefix(s, ".") || strings.ContainsRune(s, filepath.Separator)
}

func trackingRef(rm *repo.Remote, remoteRef string) (string, bool) {
	if rm == nil || !strings.HasPrefix(remoteRef, repo.BranchPrefix) {
		return "", false
	}
	return rm.TrackingRef(remoteRef)
}

func dialer(dial DialFunc, rawURL string, logger *slog.Logger) func(context.Context) (remote.Session, error) {
	return func(ctx context.Context) (remote.Session, error) {
		if dial != nil {
			return dial(ctx, rawURL)
		}
		return remote.Dial(ctx, rawURL, remote.DialOptions{Logger: logger})
	}
}

func withBatchDefaults(r *repo.Repo, opts Options) (Options, error) {
	if opts.BatchObjects > 0 && opts.BatchBytes > 0 {
		return opts, nil
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return opts, err
	}
	if opts.BatchObjects <= 0 {
		opts.BatchObjects = cfg.Transfer.BatchObjects
	}
	if opts.BatchBytes <= 0 {
		opts.BatchBytes = cfg.Transfer.BatchBytes
	}
	return opts, nil
}
