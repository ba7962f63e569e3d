// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// Exit codes reported by stagehand runs.
const (
	ExitSuccess ExitCode = 0
	// ExitFatal ends a run that aborted before finishing its work.
	ExitFatal ExitCode = 1
	// MaxErrorCountExit caps codes derived from collected error counts below
	// the range shells reserve for signals and exec failures.
	MaxErrorCountExit ExitCode = 125
)

// ErrInvalidExitCode is the sentinel wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is a process exit status in the POSIX range 0-255.
	ExitCode int

	// InvalidExitCodeError reports an ExitCode outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// FromErrorCount maps the number of collected errors of a run to its exit
// code: success for none, otherwise the count capped at MaxErrorCountExit.
func FromErrorCount(n int) ExitCode {
	if n <= 0 {
		return ExitSuccess
	}
	return min(ExitCode(n), MaxErrorCountExit)
}

func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d out of range 0-255", e.Value)
}

func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate rejects codes a process cannot report.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// Capped reports whether c may stand for more collected errors than it shows.
func (c ExitCode) Capped() bool { return c == MaxErrorCountExit }

func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
