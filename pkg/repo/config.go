package repo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/status"
)

const configFile = "config.toml"

// Config is the repository-local configuration stored in config.toml.
type Config struct {
	Core     CoreConfig              `toml:"core"`
	User     UserConfig              `toml:"user"`
	Transfer TransferConfig          `toml:"transfer"`
	Remotes  map[string]RemoteConfig `toml:"remote,omitempty"`
	Serve    ServeConfig             `toml:"serve"`
}

type CoreConfig struct {
	// Depth bounds the first-parent history kept by a shallow repository.
	// Zero means full history.
	Depth int `toml:"depth"`
}

type UserConfig struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

// TransferConfig bounds the size of each batch sent over a remote session.
type TransferConfig struct {
	BatchObjects int `toml:"batch_objects"`
	BatchBytes   int `toml:"batch_bytes"`
}

type RemoteConfig struct {
	URL     string `toml:"url"`
	PushURL string `toml:"pushurl,omitempty"`
	Fetch   string `toml:"fetch,omitempty"`
}

type ServeConfig struct {
	Addr string `toml:"addr,omitempty"`
	// Users maps user names to bcrypt password hashes. An empty map
	// disables authentication.
	Users map[string]string `toml:"users,omitempty"`
}

const (
	DefaultBatchObjects = 512
	DefaultBatchBytes   = 8 << 20
	DefaultServeAddr    = ":8182"
)

func DefaultConfig() *Config {
	return &Config{
		Transfer: TransferConfig{BatchObjects: DefaultBatchObjects, BatchBytes: DefaultBatchBytes},
		Remotes:  make(map[string]RemoteConfig),
	}
}

func (c *Config) normalize() {
	if c.Remotes == nil {
		c.Remotes = make(map[string]RemoteConfig)
	}
	if c.Transfer.BatchObjects <= 0 {
		c.Transfer.BatchObjects = DefaultBatchObjects
	}
	if c.Transfer.BatchBytes <= 0 {
		c.Transfer.BatchBytes = DefaultBatchBytes
	}
	if c.Core.Depth < 0 {
		c.Core.Depth = 0
	}
}

// ReadConfig reads config.toml. A missing file returns the defaults.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := util.ReadFile(r.FS, configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, status.Errorf(status.InvalidArgument, "read config: %v", err)
	}
	cfg.normalize()
	return cfg, nil
}

// WriteConfig atomically writes config.toml.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := r.FS.TempFile(".", ".config-tmp-")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		r.FS.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		r.FS.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := r.FS.Rename(tmpName, configFile); err != nil {
		r.FS.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// UpdateConfig reads the config, applies fn and writes the result back.
func (r *Repo) UpdateConfig(fn func(*Config) error) error {
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return r.WriteConfig(cfg)
}

// Depth returns the configured shallow depth, 0 for a full repository.
func (r *Repo) Depth() (int, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.Core.Depth, nil
}

// SetRemote stores or updates a named remote. The fetch mapping defaults
// to +refs/heads/*:refs/remotes/<name>/*.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/ \t") {
		return status.Errorf(status.InvalidArgument, "set remote: invalid remote name %q", name)
	}
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return status.Errorf(status.InvalidArgument, "set remote: remote URL is required")
	}
	return r.UpdateConfig(func(cfg *Config) error {
		rc := cfg.Remotes[name]
		rc.URL = remoteURL
		if rc.Fetch == "" {
			rc.Fetch = DefaultFetchSpec(name)
		}
		cfg.Remotes[name] = rc
		return nil
	})
}

// SetPushURL sets a separate push URL for an existing remote.
func (r *Repo) SetPushURL(name, pushURL string) error {
	return r.UpdateConfig(func(cfg *Config) error {
		rc, ok := cfg.Remotes[name]
		if !ok {
			return status.Errorf(status.NotFound, "remote %q is not configured", name)
		}
		rc.PushURL = strings.TrimSpace(pushURL)
		cfg.Remotes[name] = rc
		return nil
	})
}

// RemoveRemote deletes a remote and its tracking refs.
func (r *Repo) RemoveRemote(name string) error {
	err := r.UpdateConfig(func(cfg *Config) error {
		if _, ok := cfg.Remotes[name]; !ok {
			return status.Errorf(status.NotFound, "remote %q is not configured", name)
		}
		delete(cfg.Remotes, name)
		return nil
	})
	if err != nil {
		return err
	}
	refs, err := r.Refs.List(RemotePrefix + name + "/")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := r.Refs.Delete(ref.Name); err != nil && !status.Is(err, status.NotFound) {
			return fmt.Errorf("remove remote %q: %w", name, err)
		}
	}
	return nil
}

// Remote returns the named remote.
func (r *Repo) Remote(name string) (Remote, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Remote{}, status.Errorf(status.InvalidArgument, "remote name is required")
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return Remote{}, err
	}
	rc, ok := cfg.Remotes[name]
	if !ok || strings.TrimSpace(rc.URL) == "" {
		return Remote{}, status.Errorf(status.NotFound, "remote %q is not configured", name)
	}
	return newRemote(name, rc), nil
}

// Remotes lists configured remotes sorted by name.
func (r *Repo) Remotes() ([]Remote, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Remote, 0, len(names))
	for _, name := range names {
		out = append(out, newRemote(name, cfg.Remotes[name]))
	}
	return out, nil
}
