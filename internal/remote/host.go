// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"fmt"
	"strings"
)

// Host binds a channel to one host and its timeouts and offers the
// higher-level operations used by promotion and mirroring.
type Host struct {
	Channel  Channel
	Name     string
	Timeouts Timeouts
}

// Check runs argv with the short timeout and fails on a non-zero exit.
func (h Host) Check(ctx context.Context, argv ...string) (string, error) {
	return h.check(ctx, false, argv)
}

// CheckLong runs argv with the long timeout and fails on a non-zero exit.
func (h Host) CheckLong(ctx context.Context, argv ...string) (string, error) {
	return h.check(ctx, true, argv)
}

func (h Host) check(ctx context.Context, long bool, argv []string) (string, error) {
	timeout := h.Timeouts.Short
	if long {
		timeout = h.Timeouts.Long
	}
	res, err := h.Channel.Run(ctx, h.Name, argv, timeout)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Host: h.Name, Argv: argv, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
	return res.Output, nil
}

// Exists reports whether path exists on the host.
func (h Host) Exists(ctx context.Context, path string) (bool, error) {
	res, err := h.Channel.Run(ctx, h.Name, []string{"test", "-e", path}, h.Timeouts.Short)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &CommandError{Host: h.Name, Argv: []string{"test", "-e", path}, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
}

// ReadFile returns the content of a small remote file.
func (h Host) ReadFile(ctx context.Context, path string) (string, error) {
	return h.Check(ctx, "cat", "--", path)
}

// Rename moves from to to; to must not exist.
func (h Host) Rename(ctx context.Context, from, to string) error {
	_, err := h.CheckLong(ctx, "mv", "--", from, to)
	return err
}

// CopyTree copies the content of the remote directory from into to.
func (h Host) CopyTree(ctx context.Context, from, to string) error {
	_, err := h.CheckLong(ctx, "cp", "-a", "--", strings.TrimSuffix(from, "/")+"/.", to)
	return err
}

// Upload copies a local path into path on the host.
func (h Host) Upload(ctx context.Context, localPath, path string) error {
	return h.Channel.Copy(ctx, localPath, h.Name, path)
}

// MkdirAll creates path on the host.
func (h Host) MkdirAll(ctx context.Context, path string) error {
	return h.Channel.MkdirAll(ctx, h.Name, path)
}

// RemoveAll deletes path on the host.
func (h Host) RemoveAll(ctx context.Context, path string) error {
	return h.Channel.RemoveAll(ctx, h.Name, path)
}

// DetachedCommand wraps argv so it keeps running in the background after
// the session ends, with its output in logFile.
func DetachedCommand(argv []string, logFile string) []string {
	line := fmt.Sprintf("nohup %s > %s 2>&1 &", Quote(argv), Quote([]string{logFile}))
	return []string{"sh", "-c", line}
}

// SpawnDetached starts argv in the background on the host.
func (h Host) SpawnDetached(ctx context.Context, argv []string, logFile string) error {
	_, err := h.Check(ctx, DetachedCommand(argv, logFile)...)
	return err
}
