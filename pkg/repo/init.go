package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// DefaultBranch is the branch HEAD points to in a new repository.
const DefaultBranch = "master"

// Init creates a new repository inside fs: HEAD, config.toml, objects/,
// refs/heads/, refs/tags/, logs/ and transactions/. It fails if fs already
// holds a repository.
func Init(fs billy.Filesystem, opts Options) (*Repo, error) {
	if _, err := fs.Stat("HEAD"); err == nil {
		return nil, status.Errorf(status.InvalidArgument, "init: repository already exists at %s", fs.Root())
	}

	for _, d := range []string{"objects", "refs/heads", "refs/tags", "logs", "transactions"} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	r := newRepo(fs, opts)
	if err := r.WriteConfig(DefaultConfig()); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := util.WriteFile(fs, HEAD, []byte("ref: "+BranchPrefix+DefaultBranch+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	r.logger.Debug("initialized repository", "path", fs.Root())
	return r, nil
}

// Open opens the repository stored in fs.
func Open(fs billy.Filesystem, opts Options) (*Repo, error) {
	if _, err := fs.Stat("HEAD"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(status.NotFound, "open: not a geogig repository: %s", fs.Root())
		}
		return nil, fmt.Errorf("open: %w", err)
	}
	return newRepo(fs, opts), nil
}

// InitAt creates a repository in path/.geogig on the local filesystem.
func InitAt(path string, opts Options) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	return Init(osfs.New(filepath.Join(abs, DirName)), opts)
}

// OpenAt searches upward from path for a .geogig directory and opens the
// repository. A path that is itself a metadata directory is opened as-is.
func OpenAt(path string, opts Options) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	if isRepoDir(abs) {
		return Open(osfs.New(abs), opts)
	}
	cur := abs
	for {
		dir := filepath.Join(cur, DirName)
		if isRepoDir(dir) {
			return Open(osfs.New(dir), opts)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, status.Errorf(status.NotFound, "open: not a geogig repository (or any parent up to /): %s", abs)
		}
		cur = parent
	}
}

func isRepoDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, HEAD))
	if err != nil || info.IsDir() {
		return false
	}
	info, err = os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}
