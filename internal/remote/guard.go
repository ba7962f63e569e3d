// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"path"
	"slices"
	"strings"
	"time"
)

var (
	// deniedPrefixes may never be deleted, nor anything below them.
	deniedPrefixes = []string{
		"/bin", "/boot", "/dev", "/etc", "/lib", "/lib64",
		"/proc", "/root", "/sbin", "/sys", "/usr",
	}
	// deniedExact hold other trees; only the directories themselves are refused.
	deniedExact = []string{"/", "/home", "/opt", "/var"}
)

// Guard refuses deletes of system directories and of the user's home
// directory. Refused deletes never reach the wrapped channel.
type Guard struct {
	next Channel
	home string
}

// NewGuard wraps next. home is the remote user's home directory; empty
// skips that check.
func NewGuard(next Channel, home string) *Guard {
	return &Guard{next: next, home: home}
}

// CheckDelete returns an UnsafePathError when p must not be deleted.
func (g *Guard) CheckDelete(host, p string) error {
	if strings.TrimSpace(p) == "" {
		return &UnsafePathError{Host: host, Path: p, Reason: "empty path"}
	}
	if !path.IsAbs(p) {
		return &UnsafePathError{Host: host, Path: p, Reason: "path is not absolute"}
	}
	clean := path.Clean(p)
	for _, denied := range deniedPrefixes {
		if clean == denied || strings.HasPrefix(clean, denied+"/") {
			return &UnsafePathError{Host: host, Path: p, Reason: "system directory"}
		}
	}
	if slices.Contains(deniedExact, clean) {
		return &UnsafePathError{Host: host, Path: p, Reason: "system directory"}
	}
	if g.home != "" && clean == path.Clean(g.home) {
		return &UnsafePathError{Host: host, Path: p, Reason: "home directory"}
	}
	return nil
}

// Run forwards argv, checking the operands of rm invocations first.
func (g *Guard) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) > 0 && path.Base(argv[0]) == "rm" {
		for _, a := range argv[1:] {
			if strings.HasPrefix(a, "-") {
				continue
			}
			if err := g.CheckDelete(host, a); err != nil {
				return Result{}, err
			}
		}
	}
	return g.next.Run(ctx, host, argv, timeout)
}

// Copy forwards to the wrapped channel.
func (g *Guard) Copy(ctx context.Context, localPath, host, remotePath string) error {
	return g.next.Copy(ctx, localPath, host, remotePath)
}

// MkdirAll forwards to the wrapped channel.
func (g *Guard) MkdirAll(ctx context.Context, host, p string) error {
	return g.next.MkdirAll(ctx, host, p)
}

// RemoveAll deletes p unless it is a protected path.
func (g *Guard) RemoveAll(ctx context.Context, host, p string) error {
	if err := g.CheckDelete(host, p); err != nil {
		return err
	}
	return g.next.RemoveAll(ctx, host, p)
}
