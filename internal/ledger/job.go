// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IndexFile is the repository index whose swap publishes an update.
const IndexFile = "Updates.xml"

const (
	StateInitial State = "initial"
	StateOngoing State = "ongoing"
	StateDone    State = "done"

	TargetStaging    Target = "staging"
	TargetProduction Target = "production"
)

type (
	// State is the commit progress of a job.
	State string

	// Target is the area jobs are committed into.
	Target string

	// Job moves one pending repository into the target area.
	Job struct {
		RepoPath          string `yaml:"repo_path"`
		SourceIndexPath   string `yaml:"source_index_path"`
		PlatformSpecifier string `yaml:"platform_specifier"`
		RepoSpecifier     string `yaml:"repo_specifier"`
		State             State  `yaml:"state"`
		TargetIndexPath   string `yaml:"target_index_path"`
	}
)

// ParseTarget validates a target area name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetStaging, TargetProduction:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q (valid: staging, production)", ErrInvalidTarget, s)
	}
}

// SourceDir is the pending directory of the job.
func (j Job) SourceDir() string { return filepath.Dir(j.SourceIndexPath) }

// TargetDir is the target directory of the job.
func (j Job) TargetDir() string { return filepath.Dir(j.TargetIndexPath) }

// Scan returns one initial job per index file below <root>/<license>/pending.
// Jobs are ordered by repository path.
func Scan(root, license string, target Target) ([]Job, error) {
	pending := filepath.Join(root, license, "pending")
	var jobs []Job
	err := filepath.WalkDir(pending, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == pending {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != IndexFile {
			return nil
		}
		rel, err := filepath.Rel(pending, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		jobs = append(jobs, Job{
			RepoPath:          filepath.ToSlash(rel),
			SourceIndexPath:   path,
			PlatformSpecifier: parts[0],
			RepoSpecifier:     parts[len(parts)-1],
			State:             StateInitial,
			TargetIndexPath:   filepath.Join(root, license, string(target), rel, IndexFile),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", pending, err)
	}
	return jobs, nil
}

// Reconcile merges persisted and freshly scanned jobs. For a repository
// path present in both, the scanned job replaces the persisted one only when
// the scanned source is fresh and the persisted job is not; otherwise the
// persisted job is kept. Persisted jobs come first, in their order.
func Reconcile(persisted, scanned []Job) ([]Job, error) {
	if err := checkUnique(persisted); err != nil {
		return nil, err
	}
	if err := checkUnique(scanned); err != nil {
		return nil, err
	}

	byPath := make(map[string]Job, len(scanned))
	for _, j := range scanned {
		byPath[j.RepoPath] = j
	}
	out := make([]Job, 0, len(persisted)+len(scanned))
	for _, p := range persisted {
		s, ok := byPath[p.RepoPath]
		if !ok {
			out = append(out, p)
			continue
		}
		delete(byPath, p.RepoPath)
		if fresh(s.SourceDir()) && !(p.State == StateInitial && fresh(p.SourceDir())) {
			out = append(out, s)
		} else {
			out = append(out, p)
		}
	}
	for _, s := range scanned {
		if _, ok := byPath[s.RepoPath]; ok {
			out = append(out, s)
		}
	}
	if err := checkUnique(out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkUnique(jobs []Job) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.RepoPath] {
			return &LedgerConsistencyError{RepoPath: j.RepoPath}
		}
		seen[j.RepoPath] = true
	}
	return nil
}

// fresh reports whether dir holds exactly the index file and nothing else.
func fresh(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		return false
	}
	return entries[0].Name() == IndexFile && entries[0].Type().IsRegular()
}
