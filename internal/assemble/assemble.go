// SPDX-License-Identifier: MPL-2.0

package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// ModeDefault lets the installer generator decide what to embed.
	ModeDefault InstallerMode = ""
	// ModeOnline builds an installer that fetches everything from repositories.
	ModeOnline InstallerMode = "online"
	// ModeOffline builds an installer that embeds every package.
	ModeOffline InstallerMode = "offline"
	// ModeNone skips the installer binary.
	ModeNone InstallerMode = "none"
)

var (
	// ErrAssemble is the sentinel wrapped by ToolError.
	ErrAssemble = errors.New("artifact assembly failed")

	// ErrInvalidInstallerMode is returned by ParseInstallerMode.
	ErrInvalidInstallerMode = errors.New("invalid installer mode")
)

type (
	// InstallerMode selects the installer flavour.
	InstallerMode string

	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Assembler runs the generators.
	Assembler struct {
		binaryCreator string
		repogen       string
		execCommand   ExecCommandFunc
		logger        *log.Logger
	}

	// Option configures an Assembler.
	Option func(*Assembler)

	// InstallerRequest describes one installer binary.
	InstallerRequest struct {
		ConfigFile string
		Packages   string
		Mode       InstallerMode
		Output     string
	}

	// ToolError reports a generator run that exited non-zero or did not
	// produce its output.
	ToolError struct {
		Tool     string
		Output   string
		ExitCode int
		Log      string
		Err      error
	}
)

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s -> %s: exit code %d", e.Tool, e.Output, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

// Unwrap exposes ErrAssemble and the underlying cause.
func (e *ToolError) Unwrap() []error { return []error{ErrAssemble, e.Err} }

// ParseInstallerMode accepts online, offline, none and the empty string.
func ParseInstallerMode(s string) (InstallerMode, error) {
	switch m := InstallerMode(strings.ToLower(s)); m {
	case ModeDefault, ModeOnline, ModeOffline, ModeNone:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want online, offline or none)", ErrInvalidInstallerMode, s)
	}
}

// WithBinaryCreator sets the installer generator executable.
func WithBinaryCreator(path string) Option {
	return func(a *Assembler) {
		if path != "" {
			a.binaryCreator = path
		}
	}
}

// WithRepogen sets the repository generator executable.
func WithRepogen(path string) Option {
	return func(a *Assembler) {
		if path != "" {
			a.repogen = path
		}
	}
}

// WithExecCommand overrides command creation, for tests.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(a *Assembler) { a.execCommand = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		binaryCreator: "binarycreator",
		repogen:       "repogen",
		execCommand:   exec.CommandContext,
		logger:        log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InstallerArgs returns the installer generator command line.
func InstallerArgs(req InstallerRequest) []string {
	args := []string{"-c", req.ConfigFile, "-p", req.Packages}
	switch req.Mode {
	case ModeOnline:
		args = append(args, "--online-only")
	case ModeOffline:
		args = append(args, "--offline-only")
	}
	return append(args, req.Output)
}

// RepositoryArgs returns the repository generator command line.
func RepositoryArgs(packages, output string) []string {
	return []string{"-p", packages, output}
}

// Installer builds an installer binary.
func (a *Assembler) Installer(ctx context.Context, req InstallerRequest) error {
	return a.run(ctx, a.binaryCreator, req.Output, InstallerArgs(req))
}

// Repository builds an update repository tree.
func (a *Assembler) Repository(ctx context.Context, packages, output string) error {
	return a.run(ctx, a.repogen, output, RepositoryArgs(packages, output))
}

func (a *Assembler) run(ctx context.Context, tool, output string, args []string) error {
	a.logger.Info("running generator", "tool", tool, "output", output)
	cmd := a.execCommand(ctx, tool, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	logText := strings.TrimSpace(buf.String())
	if logText != "" {
		a.logger.Debug("generator output", "tool", tool, "log", logText)
	}
	if runErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ToolError{Tool: tool, Output: output, ExitCode: code, Log: logText, Err: runErr}
	}
	if _, err := os.Stat(output); err != nil {
		return &ToolError{Tool: tool, Output: output, Log: logText, Err: fmt.Errorf("output missing: %w", err)}
	}
	return nil
}
