package repo

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

const (
	transactionsDir = "transactions"
	// activityFile holds the unix nanos of the last staged batch.
	activityFile = "activity"
)

// Transaction is a staging area for objects received from a peer. Staged
// objects become visible in the repository only when the transaction
// commits, together with its ref update.
type Transaction struct {
	ID      string
	Objects *object.LooseStore
}

// BeginTransaction opens a new staging area.
func (r *Repo) BeginTransaction() (*Transaction, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	id := hex.EncodeToString(buf[:])
	dir := path.Join(transactionsDir, id)
	if err := r.FS.MkdirAll(path.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	staging, err := r.FS.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	r.logger.Debug("transaction started", "transaction", id)
	return &Transaction{ID: id, Objects: object.NewLooseStore(staging)}, nil
}

// Transaction reopens a staging area by id. Unknown ids fail with ABORTED:
// the transaction was committed, aborted or pruned.
func (r *Repo) Transaction(id string) (*Transaction, error) {
	if !validTransactionID(id) {
		return nil, status.Errorf(status.InvalidArgument, "invalid transaction id %q", id)
	}
	dir := path.Join(transactionsDir, id)
	if _, err := r.FS.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.WithDetails(status.Aborted, "unknown transaction", map[string]string{"transaction": id})
		}
		return nil, fmt.Errorf("open transaction %s: %w", id, err)
	}
	staging, err := r.FS.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("open transaction %s: %w", id, err)
	}
	return &Transaction{ID: id, Objects: object.NewLooseStore(staging)}, nil
}

func validTransactionID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// StageObjects verifies and stages records in a transaction. Records the
// repository already holds are skipped. It returns the number of newly
// staged objects.
func (r *Repo) StageObjects(txID string, recs []object.Record) (int, error) {
	tx, err := r.Transaction(txID)
	if err != nil {
		return 0, err
	}
	if err := r.touchTransaction(txID); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if r.Objects.Has(rec.ID) || tx.Objects.Has(rec.ID) {
			continue
		}
		if err := tx.Objects.PutRecord(rec); err != nil {
			return n, fmt.Errorf("stage object %s: %w", rec.ID.Short(), err)
		}
		n++
	}
	return n, nil
}

// touchTransaction records activity so a long push is not pruned while its
// batches are still arriving. Object writes land in fan-out directories
// and never move the transaction directory's mtime.
func (r *Repo) touchTransaction(txID string) error {
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := util.WriteFile(r.FS, path.Join(transactionsDir, txID, activityFile), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("stage objects: %w", err)
	}
	return nil
}

// lastActivity is the later of the directory mtime and the recorded
// activity stamp.
func (r *Repo) lastActivity(txID string, modTime time.Time) time.Time {
	data, err := util.ReadFile(r.FS, path.Join(transactionsDir, txID, activityFile))
	if err != nil {
		return modTime
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return modTime
	}
	if t := time.Unix(0, ns); t.After(modTime) {
		return t
	}
	return modTime
}

// CommitTransaction publishes a transaction: it checks that next and every
// object it references are present (staged or already stored), then swaps
// ref from expectedOld to next and copies the staged objects into the
// repository while the ref is locked. The staging area is removed whatever
// the outcome. A shallow repository tolerates missing commit parents.
func (r *Repo) CommitTransaction(txID, ref string, expectedOld, next object.ID) error {
	tx, err := r.Transaction(txID)
	if err != nil {
		return err
	}
	defer r.discardTransaction(txID)

	if err := ValidateRefName(ref); err != nil {
		return err
	}
	depth, err := r.Depth()
	if err != nil {
		return err
	}
	skip := func(from object.Object, id object.ID) bool {
		c, ok := from.(*object.Commit)
		return ok && depth > 0 && id != c.Tree
	}
	missing, err := object.MissingReferences([]object.ID{next}, []object.Store{tx.Objects, r.Objects}, skip)
	if err != nil {
		return fmt.Errorf("commit transaction %s: %w", txID, err)
	}
	if len(missing) > 0 {
		return status.WithDetails(status.Aborted, "transaction is missing objects", map[string]string{
			"transaction": txID,
			"missing":     missing[0].String(),
			"count":       fmt.Sprint(len(missing)),
		})
	}

	// Published objects are only visible once the ref moves. Any failure
	// between the first copy and the rename takes them back out; the mutex
	// keeps a concurrent commit from relying on an object about to go.
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	var published []object.ID
	publish := func() error {
		return tx.Objects.Each(func(id object.ID) error {
			if r.Objects.Has(id) {
				return nil
			}
			rec, err := tx.Objects.GetRecord(id)
			if err != nil {
				return err
			}
			if err := r.Objects.PutRecord(rec); err != nil {
				return err
			}
			published = append(published, id)
			return nil
		})
	}
	err = r.Refs.CompareAndSwap(ref, expectedOld, next, "push", publish)
	var reflogErr *RefUpdateReflogError
	switch {
	case err == nil:
	case errors.As(err, &reflogErr):
		r.logger.Warn("ref updated without reflog entry", "ref", ref, "error", reflogErr.Err)
	default:
		r.unpublish(txID, published)
		return err
	}
	r.logger.Debug("transaction committed", "transaction", txID, "ref", ref, "new", next, "objects", len(published))
	return nil
}

func (r *Repo) unpublish(txID string, ids []object.ID) {
	for _, id := range ids {
		if err := r.Objects.Delete(id); err != nil && !status.Is(err, status.NotFound) {
			r.logger.Warn("rollback of published object failed", "transaction", txID, "id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		r.logger.Debug("transaction rolled back", "transaction", txID, "objects", len(ids))
	}
}

// AbortTransaction discards a staging area. Aborting an unknown or
// finished transaction is a no-op.
func (r *Repo) AbortTransaction(txID string) error {
	if !validTransactionID(txID) {
		return status.Errorf(status.InvalidArgument, "invalid transaction id %q", txID)
	}
	return r.discardTransaction(txID)
}

func (r *Repo) discardTransaction(txID string) error {
	if err := util.RemoveAll(r.FS, path.Join(transactionsDir, txID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("transaction cleanup failed", "transaction", txID, "error", err)
		return fmt.Errorf("abort transaction %s: %w", txID, err)
	}
	return nil
}

// PruneTransactions removes staging areas with no activity since now minus
// olderThan and returns how many were removed.
func (r *Repo) PruneTransactions(olderThan time.Duration) (int, error) {
	entries, err := r.FS.ReadDir(transactionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("prune transactions: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, e := range entries {
		if !e.IsDir() || !validTransactionID(e.Name()) || r.lastActivity(e.Name(), e.ModTime()).After(cutoff) {
			continue
		}
		if err := r.discardTransaction(e.Name()); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		r.logger.Info("pruned abandoned transactions", "count", n)
	}
	return n, nil
}
