// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type (
	// SSHConfig configures the SSH channel.
	SSHConfig struct {
		// User is the login name; defaults to the current user. A host given
		// as user@host overrides it.
		User string
		// Port is used when the host carries no port; defaults to 22.
		Port int
		// IdentityFile is the private key; defaults to ~/.ssh/id_ed25519,
		// then ~/.ssh/id_rsa.
		IdentityFile string
		// KnownHosts verifies host keys; defaults to ~/.ssh/known_hosts.
		KnownHosts            string
		InsecureIgnoreHostKey bool
		Timeouts              Timeouts
		Logger                *log.Logger
	}

	// SSH runs commands over native SSH connections, one cached client per
	// host.
	SSH struct {
		cfg    SSHConfig
		logger *log.Logger

		mu      sync.Mutex
		clients map[string]*ssh.Client
	}
)

// NewSSH creates an SSH channel. Keys are loaded on first use.
func NewSSH(cfg SSHConfig) *SSH {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeouts.Short <= 0 {
		cfg.Timeouts.Short = DefaultTimeouts.Short
	}
	if cfg.Timeouts.Long <= 0 {
		cfg.Timeouts.Long = DefaultTimeouts.Long
	}
	return &SSH{cfg: cfg, logger: logger, clients: make(map[string]*ssh.Client)}
}

// Run executes argv through the remote user's shell, each word quoted.
func (s *SSH) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}
	return s.exec(ctx, host, Quote(argv), nil, timeout)
}

// Copy streams localPath as a tar archive into "tar -x" on the host.
func (s *SSH) Copy(ctx context.Context, localPath, host, remotePath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(ctx, pw, localPath))
	}()
	defer func() { _ = pr.Close() }()

	script := Quote([]string{"mkdir", "-p", "--", remotePath}) + " && " +
		Quote([]string{"tar", "-x", "-f", "-", "-C", remotePath})
	res, err := s.exec(ctx, host, script, pr, s.cfg.Timeouts.Long)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Host: host, Argv: []string{"tar", "-x", "-C", remotePath}, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
	return nil
}

// MkdirAll runs "mkdir -p" on the host.
func (s *SSH) MkdirAll(ctx context.Context, host, path string) error {
	return s.check(ctx, host, []string{"mkdir", "-p", "--", path}, s.cfg.Timeouts.Short)
}

// RemoveAll runs "rm -rf" on the host.
func (s *SSH) RemoveAll(ctx context.Context, host, path string) error {
	return s.check(ctx, host, []string{"rm", "-rf", "--", path}, s.cfg.Timeouts.Long)
}

// Close closes every cached connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for host, c := range s.clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(s.clients, host)
	}
	return errors.Join(errs...)
}

func (s *SSH) check(ctx context.Context, host string, argv []string, timeout time.Duration) error {
	res, err := s.Run(ctx, host, argv, timeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Host: host, Argv: argv, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
	return nil
}

// exec runs command in a new session. The session is closed when ctx ends
// or the timeout expires.
func (s *SSH) exec(ctx context.Context, host, command string, stdin io.Reader, timeout time.Duration) (Result, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	client, err := s.client(ctx, host)
	if err != nil {
		return Result{}, err
	}
	session, err := client.NewSession()
	if err != nil {
		s.drop(host, client)
		return Result{}, fmt.Errorf("ssh session to %s: %w", host, err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug("run", "host", host, "cmd", command)
	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf
	session.Stdin = stdin

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return Result{}, fmt.Errorf("%s on %s: %w", command, host, ctx.Err())
	case err := <-done:
		res := Result{Output: buf.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		s.drop(host, client)
		return Result{}, fmt.Errorf("%s on %s: %w", command, host, err)
	}
}

func (s *SSH) client(ctx context.Context, host string) (*ssh.Client, error) {
	s.mu.Lock()
	if c, ok := s.clients[host]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	user, addr := s.address(host)
	cfg, err := s.clientConfig(user)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	c := ssh.NewClient(sshConn, chans, reqs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[host]; ok {
		_ = c.Close()
		return existing, nil
	}
	s.clients[host] = c
	return c, nil
}

// drop forgets a broken client so the next call reconnects.
func (s *SSH) drop(host string, c *ssh.Client) {
	s.mu.Lock()
	if s.clients[host] == c {
		delete(s.clients, host)
	}
	s.mu.Unlock()
	_ = c.Close()
}

// address splits "[user@]host[:port]" and applies the defaults.
func (s *SSH) address(host string) (user, addr string) {
	user = s.cfg.User
	if u, h, ok := strings.Cut(host, "@"); ok {
		user, host = u, h
	}
	if user == "" {
		if cur, err := userCurrent(); err == nil {
			user = cur
		}
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return user, host
	}
	return user, net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
}

func (s *SSH) clientConfig(user string) (*ssh.ClientConfig, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         s.cfg.Timeouts.Short,
	}, nil
}

func (s *SSH) signer() (ssh.Signer, error) {
	candidates := []string{s.cfg.IdentityFile}
	if s.cfg.IdentityFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var errs []error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("identity file %s: %w", path, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no usable identity file: %w", errors.Join(errs...))
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		//nolint:gosec // explicitly requested by configuration
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := s.cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known hosts %s: %w", path, err)
	}
	return cb, nil
}

var userCurrent = func() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
