// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/invowk/stagehand/internal/retry"

	"github.com/charmbracelet/log"
)

const (
	// maxTextBytes bounds ReadText responses.
	maxTextBytes = 1 << 20
	// maxIndexBytes bounds HTML directory index pages.
	maxIndexBytes = 8 << 20
)

// ErrNotFound is returned when a source does not exist.
var ErrNotFound = errors.New("source not found")

type (
	// StatusError reports an unexpected HTTP status.
	StatusError struct {
		URL  string
		Code int
	}

	// Client fetches payload sources.
	Client struct {
		httpClient *http.Client
		userAgent  string
		logger     *log.Logger
		policy     retry.Policy
	}

	// Option configures a Client during construction.
	Option func(*Client)
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Unwrap returns ErrNotFound for 404 and 410 responses.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound || e.Code == http.StatusGone {
		return ErrNotFound
	}
	return nil
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithRetry sets the retry policy for transient HTTP failures.
func WithRetry(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

// NewClient creates a Client. Defaults: http.DefaultClient, three attempts
// starting at one second.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		userAgent:  "stagehand",
		logger:     log.New(io.Discard),
		policy:     retry.Policy{MaxAttempts: 3, BaseDelay: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileName returns the last path element of uri, or "" when the URI ends
// with a slash and therefore names no file.
func FileName(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		p = u.Path
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(filepath.ToSlash(p))
}

// Download stores the content of uri at dest. The file appears at dest only
// once it is complete.
func (c *Client) Download(ctx context.Context, uri, dest string) error {
	if local, ok := localPath(uri); ok {
		return copyLocal(local, dest)
	}

	return retry.DoIf(ctx, c.policy, isTransient, func(attempt int) error {
		if attempt > 0 {
			c.logger.Warn("retrying download", "url", uri, "attempt", attempt+1)
		}
		body, err := c.get(ctx, uri)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }() // read-only response body
		return writeAtomic(dest, body)
	})
}

// ReadText returns the trimmed content of a small text source such as a
// provenance hash file.
func (c *Client) ReadText(ctx context.Context, uri string) (string, error) {
	if local, ok := localPath(uri); ok {
		f, err := os.Open(local)
		if err != nil {
			return "", mapNotExist(err)
		}
		defer func() { _ = f.Close() }() // read-only file
		data, err := io.ReadAll(io.LimitReader(f, maxTextBytes))
		return strings.TrimSpace(string(data)), err
	}

	var text string
	err := retry.DoIf(ctx, c.policy, isTransient, func(int) error {
		body, err := c.get(ctx, uri)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }() // read-only response body
		data, err := io.ReadAll(io.LimitReader(body, maxTextBytes))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(data))
		return nil
	})
	return text, err
}

func (c *Client) get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: uri, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// isTransient classifies network failures and 5xx/429 responses as retryable.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// localPath maps file:// URLs and scheme-less paths to filesystem paths.
func localPath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return uri, true
	}
	switch {
	case u.Scheme == "file":
		return filepath.FromSlash(u.Path), true
	case u.Scheme == "" || len(u.Scheme) == 1:
		// A single-letter scheme is a Windows drive letter.
		return uri, true
	default:
		return "", false
	}
}

func copyLocal(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return mapNotExist(err)
	}
	defer func() { _ = f.Close() }() // read-only file
	return writeAtomic(dest, f)
}

func mapNotExist(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func writeAtomic(dest string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
