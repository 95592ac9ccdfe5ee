// Package transfer moves history between a local repository and a remote
// session. The Engine pushes a single ref: it negotiates the objects the
// remote lacks, stages them in a remote transaction and commits the
// transaction together with a compare-and-set of the ref. Push, Fetch, Pull
// and Clone build the user-facing operations on top of it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/remote"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// State is the progress of one ref through a push.
type State string

const (
	StateResolved     State = "RESOLVED"
	StateNegotiating  State = "NEGOTIATING"
	StateTransferring State = "TRANSFERRING"
	StateStaged       State = "STAGED"
	StateCommitted    State = "COMMITTED"
	StateFailed       State = "FAILED"
)

// Options configures an Engine. Zero batch limits use the repository
// defaults.
type Options struct {
	BatchObjects int
	BatchBytes   int
	Logger       *slog.Logger
	// OnState, when set, observes every state transition.
	OnState func(ref string, s State)
}

// Engine pushes refs from a local repository.
type Engine struct {
	local  *repo.Repo
	opts   Options
	logger *slog.Logger
}

// NewEngine returns an engine reading from local.
func NewEngine(local *repo.Repo, opts Options) *Engine {
	if opts.BatchObjects <= 0 {
		opts.BatchObjects = repo.DefaultBatchObjects
	}
	if opts.BatchBytes <= 0 {
		opts.BatchBytes = repo.DefaultBatchBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = local.Logger()
	}
	return &Engine{local: local, opts: opts, logger: logger}
}

// RefUpdate describes the outcome of pushing one ref.
type RefUpdate struct {
	Ref     string
	Old     object.ID
	New     object.ID
	Objects int
	State   State
}

const abortTimeout = 10 * time.Second

// PushRef makes remoteRef on the session point at localID. It fails with
// NOTHING_TO_PUSH when the remote already has localID (or a descendant of
// it); the returned RefUpdate is still filled in so callers can tell the
// two apart. Non-fast-forward updates fail with CONFLICT unless force is
// set, and histories the remote cannot represent fail with
// HISTORY_TOO_SHALLOW before anything is sent.
func (e *Engine) PushRef(ctx context.Context, sess remote.Session, localID object.ID, remoteRef string, force bool) (*RefUpdate, error) {
	u := &RefUpdate{Ref: remoteRef, New: localID}
	fail := func(err error) (*RefUpdate, error) {
		e.setState(u, StateFailed)
		return u, err
	}

	if err := repo.ValidateRefName(remoteRef); err != nil {
		return fail(err)
	}
	if !e.local.Objects.Has(localID) {
		return fail(status.WithDetails(status.NotFound, "local object not found", map[string]string{"id": localID.String()}))
	}
	m, err := sess.Manifest(ctx)
	if err != nil {
		return fail(fmt.Errorf("push %s: %w", remoteRef, err))
	}
	u.Old, _ = m.Lookup(remoteRef)
	e.setState(u, StateResolved)

	if u.Old == localID {
		return u, status.WithDetails(status.NothingToPush, "remote is up to date", map[string]string{"ref": remoteRef})
	}

	e.setState(u, StateNegotiating)
	if !force && !u.Old.IsNull() {
		if err := e.checkFastForward(u); err != nil {
			if status.Is(err, status.NothingToPush) {
				return u, err
			}
			return fail(err)
		}
	}
	missing, err := e.negotiate(ctx, sess, localID, m.Depth)
	if err != nil {
		return fail(fmt.Errorf("push %s: %w", remoteRef, err))
	}

	e.setState(u, StateTransferring)
	tx, err := sess.BeginPush(ctx)
	if err != nil {
		return fail(fmt.Errorf("push %s: %w", remoteRef, err))
	}
	if err := e.send(ctx, sess, tx, missing); err != nil {
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
		if aerr := sess.AbortPush(abortCtx, tx); aerr != nil {
			e.logger.Warn("aborting push transaction failed", "ref", remoteRef, "transaction", tx, "error", aerr)
		}
		cancel()
		return fail(fmt.Errorf("push %s: %w", remoteRef, err))
	}
	u.Objects = len(missing)
	e.setState(u, StateStaged)

	if err := sess.EndPush(ctx, tx, remoteRef, u.Old, localID); err != nil {
		return fail(fmt.Errorf("push %s: %w", remoteRef, err))
	}
	e.setState(u, StateCommitted)
	return u, nil
}

func (e *Engine) setState(u *RefUpdate, s State) {
	u.State = s
	e.logger.Debug("push state", "ref", u.Ref, "state", string(s), "old", u.Old, "new", u.New)
	if e.opts.OnState != nil {
		e.opts.OnState(u.Ref, s)
	}
}

// checkFastForward rejects updates that would drop remote history.
func (e *Engine) checkFastForward(u *RefUpdate) error {
	details := map[string]string{"ref": u.Ref, "remote": u.Old.String(), "local": u.New.String()}
	if !e.local.Objects.Has(u.Old) {
		return status.WithDetails(status.Conflict, "non-fast-forward: remote has changes not present locally", details)
	}
	if strings.HasPrefix(u.Ref, repo.TagPrefix) {
		return status.WithDetails(status.Conflict, "tag already exists on the remote", details)
	}
	oldCommit, err := e.local.PeelToCommit(u.Old)
	if err != nil {
		return err
	}
	newCommit, err := e.local.PeelToCommit(u.New)
	if err != nil {
		return err
	}
	// A shallow history can leave either walk undetermined, so the
	// fast-forward check runs first and each answer is only trusted when
	// it was decided.
	ff, ffErr := e.local.IsAncestor(oldCommit, newCommit)
	if ffErr != nil && !status.Is(ffErr, status.HistoryTooShallow) {
		return ffErr
	}
	if ffErr == nil && ff {
		return nil
	}
	behind, err := e.local.IsAncestor(newCommit, oldCommit)
	if err != nil && !status.Is(err, status.HistoryTooShallow) {
		return err
	}
	if err == nil && behind {
		return status.WithDetails(status.NothingToPush, "local is behind the remote", details)
	}
	if ffErr != nil {
		return ffErr
	}
	return status.WithDetails(status.Conflict, "non-fast-forward", details)
}

// negotiate returns the ids reachable from tip that the remote lacks. Any
// object the remote reports present is assumed to come with its whole
// closure, so the walk does not descend below it.
func (e *Engine) negotiate(ctx context.Context, sess remote.Session, tip object.ID, remoteDepth int) ([]object.ID, error) {
	var (
		missing   []object.ID
		contents  []object.ID
		truncated []object.ID
		remoteHas = make(map[object.ID]bool)
		seen      = map[object.ID]struct{}{tip: {}}
	)
	visit := func(next *[]object.ID, id object.ID) {
		if id.IsNull() {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		*next = append(*next, id)
	}

	// Commit graph, breadth first.
	frontier := []object.ID{tip}
	for len(frontier) > 0 {
		present, err := e.exists(ctx, sess, frontier)
		if err != nil {
			return nil, err
		}
		var next []object.ID
		for i, id := range frontier {
			remoteHas[id] = present[i]
			if present[i] {
				continue
			}
			if !e.local.Objects.Has(id) {
				truncated = append(truncated, id)
				continue
			}
			obj, err := e.local.Objects.Get(id)
			if err != nil {
				return nil, err
			}
			missing = append(missing, id)
			switch o := obj.(type) {
			case *object.Commit:
				visit(&contents, o.Tree)
				for _, p := range o.Parents {
					visit(&next, p)
				}
			case *object.Tag:
				visit(&next, o.Commit)
			default:
				return nil, status.Errorf(status.InvalidArgument, "cannot push %s %s", obj.Type(), id.Short())
			}
		}
		frontier = next
	}

	if len(truncated) > 0 {
		if err := e.checkShallow(ctx, sess, tip, remoteDepth, remoteHas, truncated); err != nil {
			return nil, err
		}
	}

	// Trees, features and feature types, level by level.
	for len(contents) > 0 {
		present, err := e.exists(ctx, sess, contents)
		if err != nil {
			return nil, err
		}
		var next []object.ID
		for i, id := range contents {
			if present[i] {
				continue
			}
			obj, err := e.local.Objects.Get(id)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", id.Short(), err)
			}
			missing = append(missing, id)
			if t, ok := obj.(*object.Tree); ok {
				for _, ent := range t.Entries {
					visit(&next, ent.ID)
					visit(&next, ent.MetadataID)
				}
			}
		}
		contents = next
	}

	e.logger.Debug("negotiation finished", "tip", tip, "missing", len(missing))
	return missing, nil
}

// exists asks the remote about ids in batches.
func (e *Engine) exists(ctx context.Context, sess remote.Session, ids []object.ID) ([]bool, error) {
	out := make([]bool, 0, len(ids))
	for start := 0; start < len(ids); start += e.opts.BatchObjects {
		end := min(start+e.opts.BatchObjects, len(ids))
		got, err := sess.Exists(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

// checkShallow decides whether commits whose parents neither side holds
// can be pushed. A full remote cannot accept them. A shallow remote keeping
// depth generations accepts them when the first-parent line from tip,
// counting what the remote already holds, is at least that deep or reaches
// a root.
func (e *Engine) checkShallow(ctx context.Context, sess remote.Session, tip object.ID, depth int, remoteHas map[object.ID]bool, truncated []object.ID) error {
	details := map[string]string{
		"tip":     tip.String(),
		"missing": truncated[0].String(),
		"count":   fmt.Sprint(len(truncated)),
	}
	if depth <= 0 {
		return status.WithDetails(status.HistoryTooShallow, "local history is shallow and the remote keeps full history", details)
	}

	id, err := e.local.PeelToCommit(tip)
	if err != nil {
		return err
	}
	generations := 1
	for generations < depth {
		c, err := e.local.ReadCommit(id)
		if err != nil {
			return err
		}
		if len(c.Parents) == 0 {
			return nil
		}
		p := c.Parents[0]
		if remoteHas[p] {
			below, err := sess.AncestorDepth(ctx, p)
			if err != nil {
				return err
			}
			generations += 1 + below
			break
		}
		if !e.local.Objects.Has(p) {
			break
		}
		generations++
		id = p
	}
	if generations < depth {
		details["generations"] = fmt.Sprint(generations)
		details["depth"] = fmt.Sprint(depth)
		return status.WithDetails(status.HistoryTooShallow, "history too shallow for the remote's depth", details)
	}
	return nil
}

// send uploads ids in batches bounded by object count and encoded size.
func (e *Engine) send(ctx context.Context, sess remote.Session, tx string, ids []object.ID) error {
	batch := make([]object.Record, 0, min(len(ids), e.opts.BatchObjects))
	batchBytes := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sess.SendObjects(ctx, tx, batch); err != nil {
			return err
		}
		e.logger.Debug("batch sent", "transaction", tx, "objects", len(batch), "bytes", batchBytes)
		batch = batch[:0]
		batchBytes = 0
		return nil
	}

	for _, id := range ids {
		rec, err := e.local.Objects.GetRecord(id)
		if err != nil {
			return fmt.Errorf("read %s: %w", id.Short(), err)
		}
		size := object.RecordSize(rec)
		if len(batch) > 0 && (len(batch) >= e.opts.BatchObjects || batchBytes+size > e.opts.BatchBytes) {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, rec)
		batchBytes += size
	}
	return flush()
}

// isRefUpdated reports whether err still left the ref updated: only the
// reflog append failed.
func isRefUpdated(err error) bool {
	return err == nil || errors.Is(err, repo.ErrRefUpdatedButReflogAppendFailed)
}
