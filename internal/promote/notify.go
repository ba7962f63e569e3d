// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// Notifier tells release-test automation about a promoted repository.
	Notifier interface {
		Notify(ctx context.Context, repoPath string, keys []string) error
	}

	// RTANotifier triggers one build per key by POSTing to
	// <base>/<key>/build?repo_path=<repoPath>.
	RTANotifier struct {
		base   string
		client *http.Client
		logger *log.Logger
	}
)

// NewRTANotifier creates a notifier for the endpoint base. A nil client uses
// one with a 30 second timeout.
func NewRTANotifier(base string, client *http.Client, logger *log.Logger) *RTANotifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &RTANotifier{base: strings.TrimSuffix(base, "/"), client: client, logger: logger}
}

// Notify triggers every key and joins the failures.
func (n *RTANotifier) Notify(ctx context.Context, repoPath string, keys []string) error {
	var errs []error
	for _, key := range keys {
		target := fmt.Sprintf("%s/%s/build?%s", n.base, url.PathEscape(key), url.Values{"repo_path": {repoPath}}.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, http.NoBody)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := n.client.Do(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("rta %s: %w", key, err))
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			errs = append(errs, fmt.Errorf("rta %s: %s", key, resp.Status))
			continue
		}
		n.logger.Info("triggered release test automation", "key", key, "repo", repoPath)
	}
	return errors.Join(errs...)
}
