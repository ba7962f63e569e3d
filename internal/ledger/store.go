// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileVersion is written into every ledger file.
const fileVersion = 1

type (
	// Store reads and atomically rewrites a YAML ledger file.
	Store struct {
		path string
	}

	ledgerFile struct {
		Version int   `yaml:"version"`
		Jobs    []Job `yaml:"jobs"`
	}
)

// NewStore returns a store for path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the ledger file path.
func (s *Store) Path() string { return s.path }

// Load returns the persisted jobs; a missing file yields none.
func (s *Store) Load() ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f ledgerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", s.path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("ledger %s: unsupported version %d", s.path, f.Version)
	}
	for _, j := range f.Jobs {
		switch j.State {
		case StateInitial, StateOngoing, StateDone:
		default:
			return nil, fmt.Errorf("ledger %s: job %s has unknown state %q", s.path, j.RepoPath, j.State)
		}
	}
	if err := checkUnique(f.Jobs); err != nil {
		return nil, err
	}
	return f.Jobs, nil
}

// Save replaces the ledger file with jobs. The content is written to a
// temporary file in the same directory, synced, renamed over the ledger and
// the directory is synced, so readers see either the old or the new ledger.
func (s *Store) Save(jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := yaml.Marshal(ledgerFile{Version: fileVersion, Jobs: jobs})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		cleanup()
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }() // read-only handle
	return d.Sync()
}
