// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/invowk/stagehand/internal/retry"
	"github.com/invowk/stagehand/internal/testutil"
)

// recordingChannel records calls and returns scripted errors.
type recordingChannel struct {
	mu      sync.Mutex
	calls   []string
	errs    []error
	results []Result
}

func (c *recordingChannel) next(call string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	var res Result
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	if len(c.results) > 0 {
		res, c.results = c.results[0], c.results[1:]
	}
	return res, err
}

func (c *recordingChannel) Run(_ context.Context, host string, argv []string, _ time.Duration) (Result, error) {
	return c.next("run " + strings.Join(argv, " "))
}

func (c *recordingChannel) Copy(_ context.Context, localPath, _, remotePath string) error {
	_, err := c.next("copy " + localPath + " " + remotePath)
	return err
}

func (c *recordingChannel) MkdirAll(_ context.Context, _, path string) error {
	_, err := c.next("mkdir " + path)
	return err
}

func (c *recordingChannel) RemoveAll(_ context.Context, _, path string) error {
	_, err := c.next("remove " + path)
	return err
}

func (c *recordingChannel) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestGuard_RefusesSystemPaths(t *testing.T) {
	t.Parallel()

	refused := []string{
		"/", "/etc", "/etc/", "/usr/../usr", "/lib64", "/root", "/home/deploy", "", "relative/dir", "//",
		"/etc/ssh", "/usr/lib", "/usr/local/share/repo", "/root/.ssh", "/boot/efi", "/srv/../etc/passwd",
		"/home", "/var", "/opt/",
	}
	for _, p := range refused {
		rec := &recordingChannel{}
		g := NewGuard(rec, "/home/deploy")
		err := g.RemoveAll(context.Background(), "repo.example.com", p)
		var ue *UnsafePathError
		if !errors.As(err, &ue) || !errors.Is(err, ErrUnsafePath) {
			t.Errorf("RemoveAll(%q) error = %v, want UnsafePathError", p, err)
		}
		if len(rec.Calls()) != 0 {
			t.Errorf("RemoveAll(%q) reached the channel: %v", p, rec.Calls())
		}
	}

	rec := &recordingChannel{}
	g := NewGuard(rec, "/home/deploy")
	for _, p := range []string{"/srv/repo/opensource/pending/linux_x64", "/home/deploy/repo", "/opt/repo/staging", "/var/lib/repo", "/etcetera/x"} {
		if err := g.RemoveAll(context.Background(), "h", p); err != nil {
			t.Errorf("RemoveAll(%q) error = %v", p, err)
		}
	}
	if len(rec.Calls()) != 5 {
		t.Errorf("calls = %v", rec.Calls())
	}
}

func TestGuard_ChecksRmCommands(t *testing.T) {
	t.Parallel()

	rec := &recordingChannel{}
	g := NewGuard(rec, "")
	_, err := g.Run(context.Background(), "h", []string{"rm", "-rf", "--", "/srv/x", "/boot"}, time.Second)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Run(rm /boot) error = %v", err)
	}
	if _, err := g.Run(context.Background(), "h", []string{"/bin/rm", "-rf", "/srv/x"}, time.Second); err != nil {
		t.Fatalf("Run(rm /srv/x) error = %v", err)
	}
	if _, err := g.Run(context.Background(), "h", []string{"ls", "/"}, time.Second); err != nil {
		t.Fatalf("Run(ls /) error = %v", err)
	}
	if got := rec.Calls(); len(got) != 2 {
		t.Errorf("calls = %v", got)
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestRetrying(t *testing.T) {
	t.Parallel()

	reset := fmt.Errorf("read tcp: %w", syscall.ECONNRESET)

	t.Run("recovers", func(t *testing.T) {
		t.Parallel()
		rec := &recordingChannel{errs: []error{reset, reset, nil}}
		r := NewRetrying(rec, fastPolicy(5), nil)
		if err := r.MkdirAll(context.Background(), "h", "/srv/x"); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if n := len(rec.Calls()); n != 3 {
			t.Errorf("attempts = %d, want 3", n)
		}
	})

	t.Run("escalates", func(t *testing.T) {
		t.Parallel()
		rec := &recordingChannel{errs: []error{reset, reset, reset}}
		r := NewRetrying(rec, fastPolicy(3), nil)
		err := r.Copy(context.Background(), "/tmp/x", "h", "/srv/x")
		var te *RemoteTransientError
		if !errors.As(err, &te) || te.Attempts != 3 || !errors.Is(err, ErrRemoteTransient) || !errors.Is(err, syscall.ECONNRESET) {
			t.Fatalf("Copy() error = %v, want RemoteTransientError after 3 attempts", err)
		}
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()
		for _, perm := range []error{
			&UnsafePathError{Path: "/"},
			&CommandError{Argv: []string{"false"}, ExitCode: 1},
			context.Canceled,
			errors.New("permission denied"),
		} {
			rec := &recordingChannel{errs: []error{perm}}
			r := NewRetrying(rec, fastPolicy(5), nil)
			err := r.RemoveAll(context.Background(), "h", "/srv/x")
			if !errors.Is(err, perm) {
				t.Errorf("RemoveAll() error = %v, want %v", err, perm)
			}
			if n := len(rec.Calls()); n != 1 {
				t.Errorf("%v: attempts = %d, want 1", perm, n)
			}
		}
	})

	t.Run("ssh transport exit status", func(t *testing.T) {
		t.Parallel()
		rec := &recordingChannel{results: []Result{
			{ExitCode: 255, Output: "kex_exchange_identification: Connection closed by remote host"},
			{ExitCode: 0, Output: "ok"},
		}}
		r := NewRetrying(rec, fastPolicy(3), nil)
		res, err := r.Run(context.Background(), "h", []string{"true"}, time.Second)
		if err != nil || res.Output != "ok" {
			t.Fatalf("Run() = %+v, %v", res, err)
		}

		rec = &recordingChannel{results: []Result{{ExitCode: 255, Output: "fatal: bad object"}}}
		res, err = NewRetrying(rec, fastPolicy(3), nil).Run(context.Background(), "h", []string{"git"}, time.Second)
		if err != nil || res.ExitCode != 255 || len(rec.Calls()) != 1 {
			t.Fatalf("a plain exit 255 must not be retried: %+v, %v, calls %v", res, err, rec.Calls())
		}
	})
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{syscall.ECONNREFUSED, true},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{errors.New("ssh: handshake failed: EOF"), true},
		{errors.New("No route to host"), true},
		{context.DeadlineExceeded, false},
		{&CommandError{ExitCode: 1, Output: "connection refused"}, false},
		{errors.New("no such file"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	got := Quote([]string{"repogen", "--update", "/srv/repo dir/it's", "", "a=b"})
	want := `repogen --update "/srv/repo dir/it's" '' 'a=b'`
	if got != want {
		t.Errorf("Quote() = %s, want %s", got, want)
	}
}

func TestDetachedCommand(t *testing.T) {
	t.Parallel()

	got := DetachedCommand([]string{"aws", "s3", "sync", "/srv/repo", "s3://bucket/x"}, "/tmp/sync logs/run.log")
	want := []string{"sh", "-c", "nohup aws s3 sync /srv/repo s3://bucket/x > '/tmp/sync logs/run.log' 2>&1 &"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("DetachedCommand() = %q, want %q", got, want)
	}
}

func localHost() Host {
	return Host{Channel: NewGuard(NewLocal(), ""), Name: "localhost", Timeouts: Timeouts{Short: 10 * time.Second, Long: 30 * time.Second}}
}

func TestLocal_Run(t *testing.T) {
	t.Parallel()

	l := NewLocal()
	res, err := l.Run(context.Background(), "", []string{"sh", "-c", "echo out; echo err >&2; exit 4"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 4 || !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Errorf("Run() = %+v", res)
	}

	_, err = l.Run(context.Background(), "", []string{"sleep", "5"}, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run(sleep) error = %v, want deadline exceeded", err)
	}

	if _, err := l.Run(context.Background(), "", []string{"/nonexistent/tool"}, time.Second); err == nil {
		t.Error("expected error for missing executable")
	}
}

func TestLocal_CopyAndHostHelpers(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"Updates.xml":             "<Updates/>",
		"qt.tools/1.0meta.7z":     "meta",
		"qt.tools/1.0cmake.7z":    "data",
		"qt.tools/sub/nested.txt": "nested",
	})
	if err := os.Symlink("1.0cmake.7z", filepath.Join(src, "qt.tools", "latest.7z")); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	h := localHost()
	root := t.TempDir()
	pending := filepath.Join(root, "pending", "linux_x64")

	if err := h.Upload(ctx, src, pending); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	tree := testutil.ReadTree(t, pending)
	if len(tree) != 4 || tree["qt.tools/sub/nested.txt"] != "nested" {
		t.Errorf("uploaded tree = %v", tree)
	}
	if link, err := os.Readlink(filepath.Join(pending, "qt.tools", "latest.7z")); err != nil || link != "1.0cmake.7z" {
		t.Errorf("symlink = %q, %v", link, err)
	}

	ok, err := h.Exists(ctx, filepath.Join(pending, "Updates.xml"))
	if err != nil || !ok {
		t.Errorf("Exists(Updates.xml) = %v, %v", ok, err)
	}
	ok, err = h.Exists(ctx, filepath.Join(pending, "missing"))
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	if got, err := h.ReadFile(ctx, filepath.Join(pending, "Updates.xml")); err != nil || got != "<Updates/>" {
		t.Errorf("ReadFile() = %q, %v", got, err)
	}
	if _, err := h.ReadFile(ctx, filepath.Join(pending, "missing")); !errors.Is(err, ErrCommand) {
		t.Errorf("ReadFile(missing) error = %v, want ErrCommand", err)
	}

	staging := filepath.Join(root, "staging", "linux_x64")
	if err := h.MkdirAll(ctx, staging); err != nil {
		t.Fatal(err)
	}
	if err := h.CopyTree(ctx, pending, staging); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}
	if got := testutil.ReadTree(t, staging); len(got) != 4 {
		t.Errorf("copied tree = %v", got)
	}

	backup := staging + "____snapshot_backup"
	if err := h.Rename(ctx, staging, backup); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if ok, _ := h.Exists(ctx, staging); ok {
		t.Error("rename source still exists")
	}
	if err := h.RemoveAll(ctx, backup); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if err := h.RemoveAll(ctx, "/"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("RemoveAll(/) error = %v", err)
	}
}

func TestHost_SpawnDetached(t *testing.T) {
	t.Parallel()

	logFile := filepath.Join(t.TempDir(), "sync.log")
	h := localHost()
	if err := h.SpawnDetached(context.Background(), []string{"echo", "synced"}, logFile); err != nil {
		t.Fatalf("SpawnDetached() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logFile)
		if strings.TrimSpace(string(data)) == "synced" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("log file content = %q", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
