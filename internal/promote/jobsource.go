// SPDX-License-Identifier: MPL-2.0

package promote

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/stagehand/pkg/cueutil"
)

//go:embed jobsource_schema.cue
var jobSourceSchema []byte

type (
	// UpdateJob promotes one built tree to one repository path.
	UpdateJob struct {
		// RepoPath is the path below each area; unique within a run.
		RepoPath string `json:"repo_path"`
		// Source is the local directory holding the built tree.
		Source string `json:"source"`
		// RTAKeys are notified after a successful promotion.
		RTAKeys []string `json:"rta_keys"`
	}

	jobSourceDoc struct {
		Jobs []UpdateJob `json:"jobs"`
	}
)

// LoadJobs reads a CUE job source file. Relative sources resolve against the
// file's directory.
func LoadJobs(file string) ([]UpdateJob, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobSource, err)
	}
	jobs, err := ParseJobs(data, file)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(file)
	for i := range jobs {
		if !filepath.IsAbs(jobs[i].Source) {
			jobs[i].Source = filepath.Join(base, jobs[i].Source)
		}
	}
	return jobs, nil
}

// ParseJobs decodes and validates job source content.
func ParseJobs(data []byte, filename string) ([]UpdateJob, error) {
	res, err := cueutil.ParseAndDecode[jobSourceDoc](jobSourceSchema, data, "#JobSource",
		cueutil.WithFilename(filename), cueutil.WithConcrete(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobSource, err)
	}
	jobs := res.Value.Jobs
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s: no jobs", ErrJobSource, filename)
	}
	for i := range jobs {
		if err := CheckRepoPath(jobs[i].RepoPath); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrJobSource, err)
		}
		jobs[i].RepoPath = path.Clean(jobs[i].RepoPath)
		if len(jobs[i].RTAKeys) == 0 {
			jobs[i].RTAKeys = nil
		}
	}
	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CheckRepoPath rejects repository paths that are empty, absolute, name the
// area itself or climb out of it.
func CheckRepoPath(rp string) error {
	switch {
	case strings.TrimSpace(rp) == "":
		return &InvalidRepoPathError{RepoPath: rp, Reason: "empty"}
	case path.IsAbs(rp) || strings.HasPrefix(rp, `\`):
		return &InvalidRepoPathError{RepoPath: rp, Reason: "must be relative"}
	case slices.Contains(strings.Split(strings.ReplaceAll(rp, `\`, "/"), "/"), ".."):
		return &InvalidRepoPathError{RepoPath: rp, Reason: "must not contain .."}
	case path.Clean(rp) == ".":
		return &InvalidRepoPathError{RepoPath: rp, Reason: "names the whole area"}
	}
	return nil
}

// ValidateJobs rejects job lists with an invalid repository path, a path
// listed twice, or a path nested below another job's path. Each repository
// directory is owned by exactly one job during a run.
func ValidateJobs(jobs []UpdateJob) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if err := CheckRepoPath(j.RepoPath); err != nil {
			return err
		}
		key := path.Clean(j.RepoPath)
		if seen[key] {
			return &DuplicateRepoPathError{RepoPath: key}
		}
		seen[key] = true
	}
	for key := range seen {
		for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
			if seen[dir] {
				return &OverlappingRepoPathError{RepoPath: dir, Nested: key}
			}
		}
	}
	return nil
}
