// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrUnsafePath is the sentinel wrapped by UnsafePathError.
	ErrUnsafePath = errors.New("refusing to delete unsafe path")
	// ErrRemoteTransient is the sentinel wrapped by RemoteTransientError.
	ErrRemoteTransient = errors.New("remote host unreachable")
	// ErrCommand is the sentinel wrapped by CommandError.
	ErrCommand = errors.New("remote command failed")
)

type (
	// Result is the outcome of a remote command.
	Result struct {
		ExitCode int
		// Output is the combined stdout and stderr.
		Output string
	}

	// Channel runs commands and file operations on a host. An empty host or
	// "localhost" means the local machine.
	Channel interface {
		// Run executes argv and returns its exit code and output. A non-zero
		// exit is not an error; errors mean the command could not be run.
		Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error)
		// Copy places the content of the local directory localPath (or the
		// local file itself) into remotePath, creating it.
		Copy(ctx context.Context, localPath, host, remotePath string) error
		MkdirAll(ctx context.Context, host, path string) error
		RemoveAll(ctx context.Context, host, path string) error
	}

	// Timeouts are the two timeout classes of remote operations.
	Timeouts struct {
		// Short bounds existence checks and small commands.
		Short time.Duration
		// Long bounds copies, deletes of large trees and repository merges.
		Long time.Duration
	}

	// UnsafePathError reports a delete refused by Guard.
	UnsafePathError struct {
		Host   string
		Path   string
		Reason string
	}

	// RemoteTransientError reports a connectivity failure that persisted
	// through every retry.
	RemoteTransientError struct {
		Host     string
		Op       string
		Attempts int
		Err      error
	}

	// CommandError reports a command that exited non-zero.
	CommandError struct {
		Host     string
		Argv     []string
		ExitCode int
		Output   string
	}
)

// DefaultTimeouts are used when a configuration leaves them unset.
var DefaultTimeouts = Timeouts{Short: time.Minute, Long: 30 * time.Minute}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("refusing to delete %s on %s: %s", e.Path, hostLabel(e.Host), e.Reason)
}

// Unwrap returns ErrUnsafePath.
func (e *UnsafePathError) Unwrap() error { return ErrUnsafePath }

func (e *RemoteTransientError) Error() string {
	return fmt.Sprintf("%s on %s failed after %d attempt(s): %v", e.Op, hostLabel(e.Host), e.Attempts, e.Err)
}

// Unwrap exposes ErrRemoteTransient and the last failure.
func (e *RemoteTransientError) Unwrap() []error { return []error{ErrRemoteTransient, e.Err} }

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s on %s: exit code %d", Quote(e.Argv), hostLabel(e.Host), e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns ErrCommand.
func (e *CommandError) Unwrap() error { return ErrCommand }

// IsLocalHost reports whether host designates the local machine.
func IsLocalHost(host string) bool {
	return host == "" || host == "localhost"
}

// Quote renders argv as a shell command line, quoting each word for bash.
func Quote(argv []string) string {
	words := make([]string, 0, len(argv))
	for _, a := range argv {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			// Only strings with NUL bytes cannot be quoted; keep them visible.
			q = fmt.Sprintf("%q", a)
		}
		words = append(words, q)
	}
	return strings.Join(words, " ")
}

func hostLabel(host string) string {
	if IsLocalHost(host) {
		return "localhost"
	}
	return host
}
