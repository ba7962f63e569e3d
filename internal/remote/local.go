// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Local runs everything on this machine. The host argument is ignored.
	Local struct {
		execCommand ExecCommandFunc
		logger      *log.Logger
	}

	// LocalOption configures Local.
	LocalOption func(*Local)
)

// WithLocalExecCommand overrides command creation, for tests.
func WithLocalExecCommand(fn ExecCommandFunc) LocalOption {
	return func(l *Local) { l.execCommand = fn }
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *log.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates a local channel.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{execCommand: exec.CommandContext, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes argv directly, without a shell.
func (l *Local) Run(ctx context.Context, _ string, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	l.logger.Debug("run", "host", "localhost", "cmd", Quote(argv))
	cmd := l.execCommand(ctx, argv[0], argv[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%s: %w", Quote(argv), ctx.Err())
	}
	res := Result{Output: buf.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, err
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// Copy copies localPath into remotePath on this machine.
func (l *Local) Copy(ctx context.Context, localPath, _, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(remotePath, 0o755); err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(localPath, filepath.Join(remotePath, filepath.Base(localPath)), info.Mode().Perm())
	}
	return filepath.WalkDir(localPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		target := filepath.Join(remotePath, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

// MkdirAll creates path and its parents.
func (l *Local) MkdirAll(_ context.Context, _, path string) error {
	return os.MkdirAll(path, 0o755)
}

// RemoveAll deletes path recursively; a missing path is not an error.
func (l *Local) RemoveAll(_ context.Context, _, path string) error {
	l.logger.Debug("remove", "host", "localhost", "path", path)
	return os.RemoveAll(path)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only file

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
