// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/invowk/stagehand/internal/retry"
	"github.com/invowk/stagehand/internal/sshserver"
	"github.com/invowk/stagehand/internal/testutil"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sshFixture struct {
	server   *sshserver.Server
	host     string
	identity string
	known    string
}

func startSSH(t *testing.T) sshFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping SSH round trip in short mode")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	clientPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "test client")
	if err != nil {
		t.Fatal(err)
	}

	cfg := sshserver.DefaultConfig()
	cfg.AuthorizedKeys = []gossh.PublicKey{clientPub}
	srv := sshserver.New(cfg)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	hostKey, err := srv.HostKey()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	identity := filepath.Join(dir, "id_ed25519")
	testutil.MustWriteFile(t, identity, string(pem.EncodeToMemory(block)))
	known := filepath.Join(dir, "known_hosts")
	testutil.MustWriteFile(t, known, knownhosts.Line([]string{knownhosts.Normalize(srv.Address())}, hostKey)+"\n")

	return sshFixture{server: srv, host: srv.Address(), identity: identity, known: known}
}

func (f sshFixture) channel(t *testing.T) *SSH {
	t.Helper()
	s := NewSSH(SSHConfig{
		User:         "deploy",
		IdentityFile: f.identity,
		KnownHosts:   f.known,
		Timeouts:     Timeouts{Short: 10 * time.Second, Long: 30 * time.Second},
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSSH_RoundTrip(t *testing.T) {
	t.Parallel()

	f := startSSH(t)
	s := f.channel(t)
	ctx := context.Background()

	res, err := s.Run(ctx, f.host, []string{"echo", "hello world", "$HOME"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Output) != "hello world $HOME" {
		t.Errorf("Run() = %+v", res)
	}

	res, err = s.Run(ctx, f.host, []string{"sh", "-c", "echo oops >&2; exit 3"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || !strings.Contains(res.Output, "oops") {
		t.Errorf("Run() = %+v", res)
	}

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"Updates.xml":         "<Updates/>",
		"qt.tools/1.0meta.7z": "meta",
	})
	if err := os.Chmod(filepath.Join(src, "Updates.xml"), 0o755); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "pending", "linux_x64")
	if err := s.Copy(ctx, src, f.host, dest); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got := testutil.ReadTree(t, dest); len(got) != 2 || got["qt.tools/1.0meta.7z"] != "meta" {
		t.Errorf("copied tree = %v", got)
	}
	info, err := os.Stat(filepath.Join(dest, "Updates.xml"))
	if err != nil || info.Mode().Perm()&0o100 == 0 {
		t.Errorf("mode not preserved: %v, %v", info, err)
	}

	nested := filepath.Join(dest, "a", "b")
	if err := s.MkdirAll(ctx, f.host, nested); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := s.RemoveAll(ctx, f.host, dest); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("dest still exists: %v", err)
	}
}

func TestSSH_HostStackRefusesUnsafeDelete(t *testing.T) {
	t.Parallel()

	f := startSSH(t)
	h := Host{
		Channel:  NewGuard(NewRetrying(f.channel(t), retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil), "/home/deploy"),
		Name:     f.host,
		Timeouts: Timeouts{Short: 5 * time.Second, Long: 10 * time.Second},
	}
	ctx := context.Background()

	dir := t.TempDir()
	ok, err := h.Exists(ctx, dir)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	if err := h.RemoveAll(ctx, "/usr"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("RemoveAll(/usr) error = %v", err)
	}
	if _, err := h.Check(ctx, "rm", "-rf", "/home/deploy/"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("rm home error = %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("unrelated dir disturbed: %v", err)
	}
}

func TestSSH_UnknownHostKey(t *testing.T) {
	t.Parallel()

	f := startSSH(t)
	other, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := gossh.NewPublicKey(other)
	if err != nil {
		t.Fatal(err)
	}
	testutil.MustWriteFile(t, f.known, knownhosts.Line([]string{knownhosts.Normalize(f.host)}, otherKey)+"\n")

	_, err = f.channel(t).Run(context.Background(), f.host, []string{"true"}, 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "key mismatch") {
		t.Fatalf("Run() error = %v, want host key mismatch", err)
	}
	if IsTransient(err) {
		t.Error("a host key mismatch must not be retried")
	}
}

func TestSSH_Address(t *testing.T) {
	t.Parallel()

	s := NewSSH(SSHConfig{User: "deploy", Port: 2222})
	tests := []struct {
		host, user, addr string
	}{
		{"repo.example.com", "deploy", "repo.example.com:2222"},
		{"ci@repo.example.com", "ci", "repo.example.com:2222"},
		{"repo.example.com:22", "deploy", "repo.example.com:22"},
		{"ci@10.0.0.1:2200", "ci", "10.0.0.1:2200"},
	}
	for _, tt := range tests {
		user, addr := s.address(tt.host)
		if user != tt.user || addr != tt.addr {
			t.Errorf("address(%q) = %q, %q; want %q, %q", tt.host, user, addr, tt.user, tt.addr)
		}
	}
}
