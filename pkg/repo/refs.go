package repo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

const (
	HEAD         = "HEAD"
	RefsPrefix   = "refs/"
	BranchPrefix = "refs/heads/"
	TagPrefix    = "refs/tags/"
	RemotePrefix = "refs/remotes/"

	symrefPrefix = "ref: "
	maxSymDepth  = 5

	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Ref is a named pointer. A symbolic ref has a Target and a null ID until
// resolved.
type Ref struct {
	Name   string    `json:"name"`
	ID     object.ID `json:"id"`
	Target string    `json:"target,omitempty"`
}

func (r Ref) IsSymbolic() bool { return r.Target != "" }

// RefStore is the ref database contract. Update is an atomic
// compare-and-set: when expectedOld is given and differs from the stored
// value the update fails with CONFLICT. A null expectedOld means the ref
// must not exist.
type RefStore interface {
	Read(name string) (Ref, error)
	Resolve(name string) (Ref, error)
	Update(name string, next object.ID, expectedOld ...object.ID) error
	SetSymbolic(name, target string) error
	Delete(name string, expectedOld ...object.ID) error
	List(prefix string) ([]Ref, error)
}

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref   string
	OldID object.ID
	NewID object.ID
	Err   error
}

var ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("update ref %q: %s (old=%s new=%s): %v",
		e.Ref, ErrRefUpdatedButReflogAppendFailed, e.OldID, e.NewID, e.Err)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

// FSRefStore keeps one file per ref under a billy filesystem, holding either
// a hex id or "ref: <target>". Writes go through a <ref>.lock file that is
// renamed into place.
type FSRefStore struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

var _ RefStore = (*FSRefStore)(nil)

// ValidateRefName rejects names that cannot be stored as a ref file.
func ValidateRefName(name string) error {
	switch {
	case name == "":
		return status.Errorf(status.InvalidArgument, "empty ref name")
	case name == HEAD:
		return nil
	case !strings.HasPrefix(name, RefsPrefix):
		return status.Errorf(status.InvalidArgument, "invalid ref name %q: must start with %s", name, RefsPrefix)
	case strings.Contains(name, ".."), strings.Contains(name, "//"),
		strings.HasSuffix(name, "/"), strings.HasSuffix(name, ".lock"),
		strings.ContainsAny(name, " \t\n\r:~^?*[\\"):
		return status.Errorf(status.InvalidArgument, "invalid ref name %q", name)
	}
	return nil
}

func (s *FSRefStore) Read(name string) (Ref, error) {
	if err := ValidateRefName(name); err != nil {
		return Ref{}, err
	}
	ref, ok, err := s.readFile(name)
	if err != nil {
		return Ref{}, err
	}
	if !ok {
		return Ref{}, status.WithDetails(status.NotFound, "ref not found", map[string]string{"ref": name})
	}
	return ref, nil
}

func (s *FSRefStore) readFile(name string) (Ref, bool, error) {
	data, err := util.ReadFile(s.fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Ref{}, false, nil
		}
		return Ref{}, false, fmt.Errorf("read ref %q: %w", name, err)
	}
	return parseRef(name, data)
}

func parseRef(name string, data []byte) (Ref, bool, error) {
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, symrefPrefix) {
		return Ref{Name: name, Target: strings.TrimSpace(strings.TrimPrefix(content, symrefPrefix))}, true, nil
	}
	id, err := object.ParseID(content)
	if err != nil {
		return Ref{}, false, fmt.Errorf("read ref %q: %w", name, err)
	}
	return Ref{Name: name, ID: id}, true, nil
}

// Resolve follows symbolic refs. The returned Ref carries the final direct
// ref's name and id.
func (s *FSRefStore) Resolve(name string) (Ref, error) {
	cur := name
	for i := 0; i <= maxSymDepth; i++ {
		ref, err := s.Read(cur)
		if err != nil {
			return Ref{}, err
		}
		if !ref.IsSymbolic() {
			return ref, nil
		}
		cur = ref.Target
	}
	return Ref{}, status.Errorf(status.InvalidArgument, "resolve %q: symbolic ref chain deeper than %d", name, maxSymDepth)
}

// Update points name at next. Symbolic refs are not followed: updating a
// symbolic name replaces it with a direct ref.
func (s *FSRefStore) Update(name string, next object.ID, expectedOld ...object.ID) error {
	if len(expectedOld) > 1 {
		return status.Errorf(status.InvalidArgument, "update ref %q: expected at most one old id", name)
	}
	return s.update(name, next, expectedOld, "update", nil)
}

// CompareAndSwap is Update with a mandatory expected value and a prepare
// hook. prepare runs while the ref is locked and after the expected value
// matched; if it fails the ref is left untouched.
func (s *FSRefStore) CompareAndSwap(name string, expectedOld, next object.ID, reason string, prepare func() error) error {
	return s.update(name, next, []object.ID{expectedOld}, reason, prepare)
}

func (s *FSRefStore) update(name string, next object.ID, expectedOld []object.ID, reason string, prepare func() error) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if next.IsNull() {
		return status.Errorf(status.InvalidArgument, "update ref %q: null target", name)
	}

	lock, err := s.lock(name)
	if err != nil {
		return err
	}
	defer lock.release()

	old, err := s.checkExpected(name, expectedOld)
	if err != nil {
		return err
	}
	if prepare != nil {
		if err := prepare(); err != nil {
			return err
		}
	}
	if err := lock.commit([]byte(next.String() + "\n")); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}

	s.logger.Debug("ref updated", "ref", name, "old", old.ID, "new", next)
	if err := s.appendReflog(name, old.ID, next, reason); err != nil {
		return &RefUpdateReflogError{Ref: name, OldID: old.ID, NewID: next, Err: err}
	}
	return nil
}

// checkExpected reads the current value under the lock and compares it
// with expectedOld, when given.
func (s *FSRefStore) checkExpected(name string, expectedOld []object.ID) (Ref, error) {
	old, exists, err := s.readFile(name)
	if err != nil {
		return Ref{}, err
	}
	if len(expectedOld) == 0 {
		return old, nil
	}
	want := expectedOld[0]
	switch {
	case old.IsSymbolic():
		return old, status.WithDetails(status.Conflict, "ref is symbolic", map[string]string{"ref": name, "target": old.Target})
	case !exists && want.IsNull():
		return old, nil
	case exists && old.ID == want:
		return old, nil
	}
	return old, status.WithDetails(status.Conflict, "ref compare-and-swap mismatch", map[string]string{
		"ref":      name,
		"expected": want.String(),
		"found":    old.ID.String(),
	})
}

// SetSymbolic points name at another ref name.
func (s *FSRefStore) SetSymbolic(name, target string) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if err := ValidateRefName(target); err != nil {
		return err
	}
	if target == name {
		return status.Errorf(status.InvalidArgument, "symbolic ref %q points at itself", name)
	}
	lock, err := s.lock(name)
	if err != nil {
		return err
	}
	defer lock.release()
	return lock.commit([]byte(symrefPrefix + target + "\n"))
}

// Delete removes a ref. Deleting an absent ref fails with NOT_FOUND.
func (s *FSRefStore) Delete(name string, expectedOld ...object.ID) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if len(expectedOld) > 1 {
		return status.Errorf(status.InvalidArgument, "delete ref %q: expected at most one old id", name)
	}
	lock, err := s.lock(name)
	if err != nil {
		return err
	}
	defer lock.release()

	old, exists, err := s.readFile(name)
	if err != nil {
		return err
	}
	if !exists {
		return status.WithDetails(status.NotFound, "ref not found", map[string]string{"ref": name})
	}
	if _, err := s.checkExpected(name, expectedOld); err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	s.logger.Debug("ref deleted", "ref", name, "old", old.ID)
	if err := s.appendReflog(name, old.ID, object.NullID, "delete"); err != nil {
		return &RefUpdateReflogError{Ref: name, OldID: old.ID, Err: err}
	}
	return nil
}

// List returns refs whose name starts with prefix, sorted by name. Symbolic
// refs are returned unresolved.
func (s *FSRefStore) List(prefix string) ([]Ref, error) {
	var refs []Ref
	root := "refs"
	err := util.Walk(s.fs, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() || strings.HasSuffix(p, ".lock") {
			return nil
		}
		name := path.Clean(strings.ReplaceAll(p, "\\", "/"))
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		ref, ok, err := s.readFile(name)
		if err != nil || !ok {
			return err
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

type refLock struct {
	fs       billy.Filesystem
	name     string
	path     string
	file     billy.File
	released bool
}

func (s *FSRefStore) lock(name string) (*refLock, error) {
	if dir := path.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock ref %q: mkdir: %w", name, err)
		}
	}
	lockPath := name + ".lock"
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := s.fs.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return &refLock{fs: s.fs, name: name, path: lockPath, file: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock ref %q: %w", name, err)
		}
		if time.Now().After(deadline) {
			return nil, status.WithDetails(status.Conflict, "timeout waiting for ref lock", map[string]string{"ref": name})
		}
		time.Sleep(refLockRetryDelay)
	}
}

// commit writes content to the lock file and renames it over the ref.
func (l *refLock) commit(content []byte) error {
	if _, err := l.file.Write(content); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := l.file.Close(); err != nil {
		l.file = nil
		return fmt.Errorf("close: %w", err)
	}
	l.file = nil
	if err := l.fs.Rename(l.path, l.name); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	l.released = true
	return nil
}

func (l *refLock) release() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if !l.released {
		_ = l.fs.Remove(l.path)
		l.released = true
	}
}
