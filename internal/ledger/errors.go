// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerConsistency is the sentinel wrapped by LedgerConsistencyError.
	ErrLedgerConsistency = errors.New("ledger inconsistent")
	// ErrDataConflict is the sentinel wrapped by DataConflictError.
	ErrDataConflict = errors.New("data conflict")
	// ErrInvalidTarget is returned for unknown target areas.
	ErrInvalidTarget = errors.New("invalid target area")
)

type (
	// LedgerConsistencyError reports a repository path held by two jobs.
	//
	//nolint:revive // the name mirrors the documented error taxonomy
	LedgerConsistencyError struct {
		RepoPath string
	}

	// DataConflictError reports a file that exists at the destination with
	// different content.
	DataConflictError struct {
		Source       string
		Target       string
		SourceDigest string
		TargetDigest string
	}
)

func (e *LedgerConsistencyError) Error() string {
	return fmt.Sprintf("repository path %q appears in more than one job", e.RepoPath)
}

// Unwrap returns ErrLedgerConsistency.
func (e *LedgerConsistencyError) Unwrap() error { return ErrLedgerConsistency }

func (e *DataConflictError) Error() string {
	return fmt.Sprintf("%s already exists with different content than %s (sha256 %s != %s)",
		e.Target, e.Source, shortDigest(e.TargetDigest), shortDigest(e.SourceDigest))
}

// Unwrap returns ErrDataConflict.
func (e *DataConflictError) Unwrap() error { return ErrDataConflict }

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
