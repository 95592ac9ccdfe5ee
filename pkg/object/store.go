package object

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// Store is the content-addressed object database contract. Put is
// idempotent; Get and Delete of an absent id fail with NOT_FOUND.
type Store interface {
	Put(obj Object) (ID, error)
	PutRecord(rec Record) error
	Get(id ID) (Object, error)
	GetRecord(id ID) (Record, error)
	Has(id ID) bool
	Delete(id ID) error

	PutAll(objs []Object) ([]ID, error)
	GetAll(ids []ID) ([]Object, error)
	HasAll(ids []ID) []bool

	// Each calls fn for every stored id in ascending order.
	Each(fn func(ID) error) error
}

// LooseStore keeps one file per object with a 2-character fan-out
// directory layout: objects/ab/cdef0123... Each file holds the object's
// versioned encoding.
type LooseStore struct {
	fs billy.Filesystem
}

var _ Store = (*LooseStore)(nil)

// NewLooseStore creates a store rooted at fs. The objects/ directory is
// created lazily on first write.
func NewLooseStore(fs billy.Filesystem) *LooseStore {
	return &LooseStore{fs: fs}
}

func (s *LooseStore) objectPath(id ID) string {
	h := id.String()
	return s.fs.Join("objects", h[:2], h[2:])
}

// Has reports whether the store contains an object with the given id.
func (s *LooseStore) Has(id ID) bool {
	_, err := s.fs.Stat(s.objectPath(id))
	return err == nil
}

// Put encodes obj in the current format and stores it.
func (s *LooseStore) Put(obj Object) (ID, error) {
	rec, err := NewRecord(obj)
	if err != nil {
		return NullID, err
	}
	if s.Has(rec.ID) {
		return rec.ID, nil
	}
	if err := s.write(rec.ID, rec.Data); err != nil {
		return NullID, err
	}
	return rec.ID, nil
}

// PutRecord verifies rec against its id and stores its data as-is, so
// legacy encodings are kept in their original format.
func (s *LooseStore) PutRecord(rec Record) error {
	if s.Has(rec.ID) {
		return nil
	}
	if _, err := VerifyRecord(rec); err != nil {
		return fmt.Errorf("put %s: %w", rec.ID.Short(), err)
	}
	return s.write(rec.ID, rec.Data)
}

// write is atomic: data goes to a temp file that is renamed into place.
func (s *LooseStore) write(id ID, data []byte) error {
	dest := s.objectPath(id)
	dir := s.fs.Join("objects", id.String()[:2])
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := s.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("object write close: %w", err)
	}

	if err := s.fs.Rename(tmpName, dest); err != nil {
		s.fs.Remove(tmpName)
		// A concurrent writer may have stored the same content first.
		if s.Has(id) {
			return nil
		}
		return fmt.Errorf("object write rename: %w", err)
	}
	return nil
}

// GetRecord returns the stored encoding of id.
func (s *LooseStore) GetRecord(id ID) (Record, error) {
	data, err := util.ReadFile(s.fs, s.objectPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, status.WithDetails(status.NotFound, "object not found", map[string]string{"id": id.String()})
		}
		return Record{}, fmt.Errorf("object read %s: %w", id, err)
	}
	t, err := PeekType(data)
	if err != nil {
		return Record{}, fmt.Errorf("object read %s: %w", id, err)
	}
	return Record{ID: id, Type: t, Data: data}, nil
}

// Get reads and decodes id.
func (s *LooseStore) Get(id ID) (Object, error) {
	rec, err := s.GetRecord(id)
	if err != nil {
		return nil, err
	}
	obj, err := rec.Decode()
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", id, err)
	}
	return obj, nil
}

func (s *LooseStore) Delete(id ID) error {
	if err := s.fs.Remove(s.objectPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status.WithDetails(status.NotFound, "object not found", map[string]string{"id": id.String()})
		}
		return fmt.Errorf("object delete %s: %w", id, err)
	}
	return nil
}

func (s *LooseStore) PutAll(objs []Object) ([]ID, error) {
	ids := make([]ID, 0, len(objs))
	for _, obj := range objs {
		id, err := s.Put(obj)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *LooseStore) GetAll(ids []ID) ([]Object, error) {
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		obj, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *LooseStore) HasAll(ids []ID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = s.Has(id)
	}
	return out
}

// Each walks the fan-out directories. Temp files and stray names are
// skipped.
func (s *LooseStore) Each(fn func(ID) error) error {
	fanout, err := s.fs.ReadDir("objects")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read objects dir: %w", err)
	}
	sort.Slice(fanout, func(i, j int) bool { return fanout[i].Name() < fanout[j].Name() })

	for _, dir := range fanout {
		prefix := dir.Name()
		if !dir.IsDir() || !isHexComponent(prefix, 2) {
			continue
		}
		entries, err := s.fs.ReadDir(s.fs.Join("objects", prefix))
		if err != nil {
			return fmt.Errorf("read objects fanout %s: %w", prefix, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			suffix := entry.Name()
			if entry.IsDir() || !isHexComponent(suffix, 2*IDSize-2) {
				continue
			}
			id, err := ParseID(prefix + suffix)
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func isHexComponent(s string, expectedLen int) bool {
	if len(s) != expectedLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
