// Package remote connects a local repository to a peer. A Session is the
// narrow interface the synchronization engine needs: the peer's refs, which
// objects it holds, its commit graph, and a staged push protocol in which
// objects are sent into a transaction that becomes visible only when the
// ref update commits.
//
// Sessions exist for repositories in the same process, on the local
// filesystem (file:// URLs or paths) and over HTTP (see Server).
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// Session is an open connection to a remote repository. Implementations
// are safe for use by one goroutine at a time.
type Session interface {
	Manifest(ctx context.Context) (*repo.Manifest, error)
	// Exists reports, per id, whether the remote holds the object.
	Exists(ctx context.Context, ids []object.ID) ([]bool, error)
	// FetchObjects returns the records the remote holds among ids; absent
	// ids are skipped.
	FetchObjects(ctx context.Context, ids []object.ID) ([]object.Record, error)
	AncestorDepth(ctx context.Context, id object.ID) (int, error)
	Parents(ctx context.Context, id object.ID) ([]object.ID, error)

	BeginPush(ctx context.Context) (string, error)
	SendObjects(ctx context.Context, tx string, recs []object.Record) error
	// EndPush commits the transaction and moves ref from expectedOld to
	// next. It fails with CONFLICT when the ref moved and ABORTED when the
	// transaction is unknown or incomplete; the transaction is gone either
	// way.
	EndPush(ctx context.Context, tx, ref string, expectedOld, next object.ID) error
	AbortPush(ctx context.Context, tx string) error
	DeleteRef(ctx context.Context, name string) error

	// Close releases the session, aborting transactions that were begun
	// and not ended.
	Close() error
}

// DialOptions configures Dial.
type DialOptions struct {
	Client ClientOptions
	Logger *slog.Logger
}

// Dial opens a session to url: http(s) URLs reach a Server, file:// URLs
// and plain paths open a repository on the local filesystem. An
// unreachable remote fails with CONNECTION_ERROR.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (Session, error) {
	if opts.Client.Logger == nil {
		opts.Client.Logger = opts.Logger
	}
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "":
		return nil, status.Errorf(status.InvalidArgument, "remote URL is required")
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return NewHTTPSession(ctx, rawURL, opts.Client)
	}

	p := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, status.Errorf(status.InvalidArgument, "parse remote URL: %v", err)
		}
		p = u.Path
	} else if strings.Contains(rawURL, "://") {
		return nil, status.Errorf(status.InvalidArgument, "unsupported remote URL scheme: %q", rawURL)
	}
	r, err := repo.OpenAt(p, repo.Options{Logger: opts.Logger})
	if err != nil {
		return nil, status.Errorf(status.ConnectionError, "open %s: %v", p, err)
	}
	return NewLocalSession(r), nil
}

// WithSession opens a session, runs fn and closes the session exactly
// once. A Close failure is returned only when fn succeeded; otherwise it is
// logged and fn's error wins.
func WithSession(ctx context.Context, logger *slog.Logger, open func(context.Context) (Session, error), fn func(Session) error) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	sess, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cerr := sess.Close()
		if cerr == nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("close session: %w", cerr)
			return
		}
		logger.Warn("closing session failed", "error", cerr)
	}()
	return fn(sess)
}
