// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/invowk/stagehand/pkg/component"

	"github.com/charmbracelet/log"
)

// ErrPatch is the sentinel wrapped by Error.
var ErrPatch = errors.New("patch operation failed")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Target describes the tree a list of operations is applied to.
	Target struct {
		// InstallDir is the extracted payload content.
		InstallDir string
		// Component is the id of the owning component.
		Component string
		// Version is the component version.
		Version string
		// License is the build edition.
		License string
	}

	// Patcher applies patch operations.
	Patcher struct {
		patchelf    string
		execCommand ExecCommandFunc
		logger      *log.Logger
		now         func() time.Time
	}

	// Option configures a Patcher.
	Option func(*Patcher)

	// Error reports the operation that failed.
	Error struct {
		Op  component.PatchOperation
		Dir string
		Err error
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%s in %s: %v", e.Op, e.Dir, e.Err)
}

// Unwrap exposes ErrPatch and the underlying cause.
func (e *Error) Unwrap() []error { return []error{ErrPatch, e.Err} }

// WithPatchelf sets the patchelf executable.
func WithPatchelf(path string) Option {
	return func(p *Patcher) {
		if path != "" {
			p.patchelf = path
		}
	}
}

// WithExecCommand overrides command creation, for tests.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(p *Patcher) { p.execCommand = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Patcher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock sets the time source used for release dates.
func WithClock(now func() time.Time) Option {
	return func(p *Patcher) { p.now = now }
}

// New creates a Patcher.
func New(opts ...Option) *Patcher {
	p := &Patcher{
		patchelf:    "patchelf",
		execCommand: exec.CommandContext,
		logger:      log.New(io.Discard),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply runs ops against t in order and stops at the first failure.
func (p *Patcher) Apply(ctx context.Context, t Target, ops []component.PatchOperation) error {
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Debug("patching", "component", t.Component, "op", op.String())

		var err error
		switch op.Kind {
		case component.PatchDeleteDocDirectory:
			err = deleteDocDirectories(t.InstallDir)
		case component.PatchSetExecutable:
			err = setExecutable(t.InstallDir, op.Arg)
		case component.PatchSetLicheck:
			err = setLicheck(t.InstallDir, op.Arg, t.License, p.now())
		case component.PatchQt:
			err = writeQtConf(t.InstallDir)
		case component.PatchRunScript:
			err = p.runScript(ctx, t, op.Arg)
		case component.PatchRPath:
			err = p.rewriteRPaths(ctx, t.InstallDir, op.Arg)
		default:
			err = fmt.Errorf("unknown operation %q", op.Kind)
		}
		if err != nil {
			return &Error{Op: op, Dir: t.InstallDir, Err: err}
		}
	}
	return nil
}

// within joins rel to root and refuses results outside root.
func within(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	joined := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, root)
	}
	return joined, nil
}
