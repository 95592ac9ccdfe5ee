package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// LocalSession serves a repository opened in the same process, including
// file:// remotes.
type LocalSession struct {
	repo *repo.Repo

	mu     sync.Mutex
	open   map[string]struct{}
	closed bool
}

var _ Session = (*LocalSession)(nil)

func NewLocalSession(r *repo.Repo) *LocalSession {
	return &LocalSession{repo: r, open: make(map[string]struct{})}
}

// Repo returns the served repository.
func (s *LocalSession) Repo() *repo.Repo { return s.repo }

func (s *LocalSession) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.Errorf(status.ConnectionError, "session closed")
	}
	return nil
}

func (s *LocalSession) Manifest(ctx context.Context) (*repo.Manifest, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.repo.Manifest()
}

func (s *LocalSession) Exists(ctx context.Context, ids []object.ID) ([]bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.repo.Objects.HasAll(ids), nil
}

func (s *LocalSession) FetchObjects(ctx context.Context, ids []object.ID) ([]object.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	recs := make([]object.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.repo.Objects.GetRecord(id)
		if err != nil {
			if status.Is(err, status.NotFound) {
				continue
			}
			return nil, fmt.Errorf("fetch objects: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *LocalSession) AncestorDepth(ctx context.Context, id object.ID) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.repo.AncestorDepth(id)
}

func (s *LocalSession) Parents(ctx context.Context, id object.ID) ([]object.ID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.repo.Parents(id)
}

func (s *LocalSession) BeginPush(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	tx, err := s.repo.BeginTransaction()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.open[tx.ID] = struct{}{}
	s.mu.Unlock()
	return tx.ID, nil
}

func (s *LocalSession) SendObjects(ctx context.Context, tx string, recs []object.Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.repo.StageObjects(tx, recs)
	return err
}

func (s *LocalSession) EndPush(ctx context.Context, tx, ref string, expectedOld, next object.ID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.open, tx)
	s.mu.Unlock()
	return s.repo.CommitTransaction(tx, ref, expectedOld, next)
}

func (s *LocalSession) AbortPush(ctx context.Context, tx string) error {
	s.mu.Lock()
	delete(s.open, tx)
	s.mu.Unlock()
	return s.repo.AbortTransaction(tx)
}

func (s *LocalSession) DeleteRef(ctx context.Context, name string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.repo.Refs.Delete(name)
}

func (s *LocalSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]string, 0, len(s.open))
	for tx := range s.open {
		pending = append(pending, tx)
	}
	s.open = nil
	s.mu.Unlock()

	var errs []error
	for _, tx := range pending {
		errs = append(errs, s.repo.AbortTransaction(tx))
	}
	return errors.Join(errs...)
}
