// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/invowk/stagehand/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// collectedErrors reports n non-fatal errors through the exit code.
func collectedErrors(n int, what string) error {
	if n <= 0 {
		return nil
	}
	return &ExitError{
		Code: types.FromErrorCount(n),
		Err:  fmt.Errorf("%d %s error(s) collected", n, what),
	}
}

// exitCode maps an error returned by the command tree to the process exit code.
func exitCode(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return types.ExitFatal
}
