// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRepoPath is the sentinel wrapped by DuplicateRepoPathError.
	ErrDuplicateRepoPath = errors.New("duplicate repository path")
	// ErrOverlappingRepoPath is the sentinel wrapped by OverlappingRepoPathError.
	ErrOverlappingRepoPath = errors.New("overlapping repository paths")
	// ErrInvalidRepoPath is the sentinel wrapped by InvalidRepoPathError.
	ErrInvalidRepoPath = errors.New("invalid repository path")
	// ErrJobSource is returned for unreadable or invalid job source files.
	ErrJobSource = errors.New("invalid job source")
	// ErrPromote is the sentinel wrapped by JobError.
	ErrPromote = errors.New("promotion failed")
	// ErrInvalidMirrorTarget is returned for unknown sync targets.
	ErrInvalidMirrorTarget = errors.New("invalid mirror target")
	// ErrMirrorNotConfigured is returned when a sync target lacks its destination.
	ErrMirrorNotConfigured = errors.New("mirror target not configured")
)

type (
	// DuplicateRepoPathError reports two jobs sharing a repository path.
	DuplicateRepoPathError struct {
		RepoPath string
	}

	// OverlappingRepoPathError reports a job nested inside another job's
	// repository path in the same run.
	OverlappingRepoPathError struct {
		RepoPath string
		Nested   string
	}

	// InvalidRepoPathError reports a repository path that does not name a
	// directory strictly below an area.
	InvalidRepoPathError struct {
		RepoPath string
		Reason   string
	}

	// JobError reports the step at which a job failed.
	JobError struct {
		RepoPath string
		Step     Step
		Err      error
	}
)

func (e *DuplicateRepoPathError) Error() string {
	return fmt.Sprintf("repository path %q is listed more than once", e.RepoPath)
}

// Unwrap returns ErrDuplicateRepoPath.
func (e *DuplicateRepoPathError) Unwrap() error { return ErrDuplicateRepoPath }

func (e *OverlappingRepoPathError) Error() string {
	return fmt.Sprintf("repository path %q contains %q", e.RepoPath, e.Nested)
}

func (e *OverlappingRepoPathError) Unwrap() error { return ErrOverlappingRepoPath }

func (e *InvalidRepoPathError) Error() string {
	return fmt.Sprintf("repository path %q: %s", e.RepoPath, e.Reason)
}

func (e *InvalidRepoPathError) Unwrap() error { return ErrInvalidRepoPath }

func (e *JobError) Error() string {
	return fmt.Sprintf("promote %s: %s: %v", e.RepoPath, e.Step, e.Err)
}

// Unwrap exposes ErrPromote and the cause.
func (e *JobError) Unwrap() []error { return []error{ErrPromote, e.Err} }
