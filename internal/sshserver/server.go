// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	gossh "golang.org/x/crypto/ssh"
)

// ErrNotStarted is returned by operations that need a running server.
var ErrNotStarted = errors.New("ssh server not started")

type (
	// Config configures the server.
	Config struct {
		// Host is the listen address; the port is always chosen by the OS
		// when Port is zero.
		Host string
		Port int
		// AuthorizedKeys are the client keys allowed to log in.
		AuthorizedKeys []gossh.PublicKey
		// Shell runs the session command as "<shell> -c <command>".
		Shell string
		// ShutdownTimeout bounds Stop.
		ShutdownTimeout time.Duration
		Logger          *log.Logger
	}

	// Server is a loopback SSH host.
	Server struct {
		cfg    Config
		logger *log.Logger

		mu       sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		hostKey  gossh.PublicKey
		wg       sync.WaitGroup
		errCh    chan error
	}
)

// DefaultConfig listens on an ephemeral loopback port and runs /bin/sh.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Shell:           "/bin/sh",
		ShutdownTimeout: 5 * time.Second,
	}
}

// New creates a server. It does not listen until Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, logger: logger.WithPrefix("sshserver"), errCh: make(chan error, 1)}
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("ssh server already started")
	}

	hostPEM, hostKey, err := generateHostKey()
	if err != nil {
		return fmt.Errorf("failed to generate host key: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv, err := wish.NewServer(
		wish.WithAddress(listener.Addr().String()),
		wish.WithHostKeyPEM(hostPEM),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithMiddleware(s.commandMiddleware()),
	)
	if err != nil {
		_ = listener.Close() // best-effort cleanup on error
		return fmt.Errorf("failed to create SSH server: %w", err)
	}

	s.srv, s.listener, s.hostKey = srv, listener, hostKey
	s.wg.Go(func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.errCh <- fmt.Errorf("serve error: %w", err)
		}
	})
	s.logger.Debug("SSH server started", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down and waits for the serve loop to exit.
// Stopping a server that never started is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if errors.Is(err, ssh.ErrServerClosed) {
		err = nil
	}
	return err
}

// Err reports serve failures after Start.
func (s *Server) Err() <-chan error { return s.errCh }

// Address returns the bound host:port, or "" before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() (gossh.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostKey == nil {
		return nil, ErrNotStarted
	}
	return s.hostKey, nil
}

func (s *Server) publicKeyHandler(_ ssh.Context, key ssh.PublicKey) bool {
	for _, k := range s.cfg.AuthorizedKeys {
		if ssh.KeysEqual(key, k) {
			return true
		}
	}
	return false
}

// commandMiddleware runs the session command with the local shell, wiring
// the session to the process's standard streams.
func (s *Server) commandMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			raw := sess.RawCommand()
			if raw == "" {
				wish.Fatalln(sess, "interactive sessions are not supported")
				return
			}

			cmd := exec.CommandContext(sess.Context(), s.cfg.Shell, "-c", raw)
			cmd.Stdin = sess
			cmd.Stdout = sess
			cmd.Stderr = sess.Stderr()
			cmd.WaitDelay = 5 * time.Second

			code := 0
			if err := cmd.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					code = exitErr.ExitCode()
				} else {
					wish.Errorln(sess, err)
					code = 127
				}
			}
			s.logger.Debug("command finished", "user", sess.User(), "command", raw, "exit", code)
			_ = sess.Exit(code)
			next(sess)
		}
	}
}

func generateHostKey() ([]byte, gossh.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	block, err := gossh.MarshalPrivateKey(priv, "stagehand loopback host")
	if err != nil {
		return nil, nil, err
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	return pem.EncodeToMemory(block), sshPub, nil
}
