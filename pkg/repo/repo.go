package repo

import (
	"log/slog"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/lkjx77/GeoGig/pkg/object"
)

// DirName is the repository metadata directory inside a working directory.
const DirName = ".geogig"

// Options configures an opened repository. The zero value is usable.
type Options struct {
	Logger *slog.Logger
}

// Repo is an opened repository. FS is rooted at the metadata directory and
// backs both the object store and the ref store.
type Repo struct {
	FS      billy.Filesystem
	Objects object.Store
	Refs    *FSRefStore

	logger    *slog.Logger
	publishMu sync.Mutex
}

func newRepo(fs billy.Filesystem, opts Options) *Repo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repo{
		FS:      fs,
		Objects: object.NewLooseStore(fs),
		logger:  logger,
	}
	r.Refs = &FSRefStore{fs: fs, logger: logger}
	return r
}

func (r *Repo) Logger() *slog.Logger { return r.logger }

// Path returns the metadata directory, for display.
func (r *Repo) Path() string { return r.FS.Root() }
