// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/invowk/stagehand/internal/config"
	"github.com/invowk/stagehand/internal/retry"

	"github.com/charmbracelet/log"
)

// Mux sends local hosts to one channel and every other host to another.
type Mux struct {
	Local  Channel
	Remote Channel
}

func (m *Mux) pick(host string) Channel {
	if IsLocalHost(host) {
		return m.Local
	}
	return m.Remote
}

// Run dispatches by host.
func (m *Mux) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error) {
	return m.pick(host).Run(ctx, host, argv, timeout)
}

// Copy dispatches by host.
func (m *Mux) Copy(ctx context.Context, localPath, host, remotePath string) error {
	return m.pick(host).Copy(ctx, localPath, host, remotePath)
}

// MkdirAll dispatches by host.
func (m *Mux) MkdirAll(ctx context.Context, host, path string) error {
	return m.pick(host).MkdirAll(ctx, host, path)
}

// RemoveAll dispatches by host.
func (m *Mux) RemoveAll(ctx context.Context, host, path string) error {
	return m.pick(host).RemoveAll(ctx, host, path)
}

// New builds the channel stack for cfg: local and SSH channels behind a Mux,
// wrapped by Retrying and then Guard. The returned closer releases cached
// SSH connections.
func New(cfg config.RemoteConfig, logger *log.Logger) (Channel, io.Closer) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.WithPrefix("remote")

	sshChan := NewSSH(SSHConfig{
		User:                  cfg.User,
		Port:                  cfg.Port,
		IdentityFile:          cfg.IdentityFile,
		KnownHosts:            cfg.KnownHosts,
		InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
		Timeouts:              TimeoutsFromConfig(cfg),
		Logger:                logger,
	})
	mux := &Mux{Local: NewLocal(WithLocalLogger(logger)), Remote: sshChan}
	policy := retry.Policy{MaxAttempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}

	home := ""
	if IsLocalHost(cfg.Host) {
		home, _ = os.UserHomeDir()
	} else if cfg.User != "" {
		home = "/home/" + cfg.User
	}
	return NewGuard(NewRetrying(mux, policy, logger), home), sshChan
}

// TimeoutsFromConfig returns the configured timeouts with defaults applied.
func TimeoutsFromConfig(cfg config.RemoteConfig) Timeouts {
	t := Timeouts{Short: cfg.ShortTimeout, Long: cfg.LongTimeout}
	if t.Short <= 0 {
		t.Short = DefaultTimeouts.Short
	}
	if t.Long <= 0 {
		t.Long = DefaultTimeouts.Long
	}
	return t
}
