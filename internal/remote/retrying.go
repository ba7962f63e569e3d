// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/invowk/stagehand/internal/retry"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshTransportExit is the exit status ssh clients use for connection failures.
const sshTransportExit = 255

// transientOutput are fragments of connection failure messages.
var transientOutput = []string{
	"connection reset",
	"connection refused",
	"connection timed out",
	"connection closed by",
	"no route to host",
	"broken pipe",
	"kex_exchange_identification",
	"ssh_exchange_identification",
	"temporary failure in name resolution",
	"handshake failed",
}

// Retrying retries operations that fail with transient connectivity errors
// and escalates persistent ones as RemoteTransientError.
type Retrying struct {
	next   Channel
	policy retry.Policy
	logger *log.Logger
}

// NewRetrying wraps next with the given policy.
func NewRetrying(next Channel, policy retry.Policy, logger *log.Logger) *Retrying {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

// IsTransient reports whether err is a connectivity failure worth retrying.
// Context errors, unsafe paths and command failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnsafePath) || errors.Is(err, ErrCommand) {
		return false
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "knownhosts:") {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return transientText(err.Error())
}

func transientText(s string) bool {
	s = strings.ToLower(s)
	for _, frag := range transientOutput {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

// transientResultError turns an ssh transport failure reported as exit
// status 255 into an error so it can be retried.
type transientResultError struct{ res Result }

func (e *transientResultError) Error() string { return strings.TrimSpace(e.res.Output) }

// Run retries transient failures of argv.
func (r *Retrying) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error) {
	var res Result
	err := r.do(ctx, host, "run "+Quote(argv), func() error {
		var err error
		res, err = r.next.Run(ctx, host, argv, timeout)
		if err == nil && res.ExitCode == sshTransportExit && transientText(res.Output) {
			return &transientResultError{res: res}
		}
		return err
	})
	return res, err
}

// Copy retries transient failures of the copy.
func (r *Retrying) Copy(ctx context.Context, localPath, host, remotePath string) error {
	return r.do(ctx, host, "copy to "+remotePath, func() error {
		return r.next.Copy(ctx, localPath, host, remotePath)
	})
}

// MkdirAll retries transient failures of the mkdir.
func (r *Retrying) MkdirAll(ctx context.Context, host, path string) error {
	return r.do(ctx, host, "mkdir "+path, func() error {
		return r.next.MkdirAll(ctx, host, path)
	})
}

// RemoveAll retries transient failures of the delete.
func (r *Retrying) RemoveAll(ctx context.Context, host, path string) error {
	return r.do(ctx, host, "remove "+path, func() error {
		return r.next.RemoveAll(ctx, host, path)
	})
}

func (r *Retrying) do(ctx context.Context, host, op string, fn func() error) error {
	attempts := 0
	var last error
	err := retry.Do(ctx, r.policy, func(attempt int) (bool, error) {
		attempts = attempt + 1
		if attempt > 0 {
			r.logger.Warn("retrying remote operation", "host", hostLabel(host), "op", op, "attempt", attempts, "err", last)
		}
		err := fn()
		last = err
		var tr *transientResultError
		return errors.As(err, &tr) || IsTransient(err), err
	})
	if err == nil {
		return nil
	}
	var tr *transientResultError
	if errors.As(err, &tr) || IsTransient(err) {
		return &RemoteTransientError{Host: host, Op: op, Attempts: attempts, Err: err}
	}
	return err
}
