// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/stagehand/internal/remote"
	"github.com/invowk/stagehand/internal/testutil"

	"github.com/stretchr/testify/require"
)

// toolChannel runs the repository generator in-process and everything
// else through the wrapped channel.
type toolChannel struct {
	remote.Channel
	tool string

	mu    sync.Mutex
	calls [][]string
}

func (c *toolChannel) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (remote.Result, error) {
	if len(argv) == 0 || argv[0] != c.tool {
		return c.Channel.Run(ctx, host, argv, timeout)
	}
	c.mu.Lock()
	c.calls = append(c.calls, argv)
	c.mu.Unlock()
	// repogen <mode> --repository <pending> <target>: the merged index is
	// the pending one.
	data, err := os.ReadFile(filepath.Join(argv[3], IndexFile))
	if err != nil {
		return remote.Result{ExitCode: 1, Output: err.Error()}, nil
	}
	if err := os.WriteFile(filepath.Join(argv[4], IndexFile), data, 0o644); err != nil {
		return remote.Result{ExitCode: 1, Output: err.Error()}, nil
	}
	return remote.Result{Output: "merged"}, nil
}

func (c *toolChannel) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.calls...)
}

func updatesXML(pairs ...string) string {
	var b strings.Builder
	b.WriteString("<Updates>\n <ApplicationName>{AnyApplication}</ApplicationName>\n")
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, " <PackageUpdate>\n  <Name>%s</Name>\n  <Version>%s</Version>\n </PackageUpdate>\n", pairs[i], pairs[i+1])
	}
	b.WriteString("</Updates>\n")
	return b.String()
}

type fixture struct {
	root  string
	tools *toolChannel
	host  remote.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	tools := &toolChannel{Channel: remote.NewLocal(), tool: "repogen"}
	return &fixture{
		root:  root,
		tools: tools,
		host: remote.Host{
			Channel:  remote.NewGuard(tools, ""),
			Name:     "localhost",
			Timeouts: remote.Timeouts{Short: 10 * time.Second, Long: 30 * time.Second},
		},
	}
}

func (f *fixture) promoter(staging, production bool, opts ...Option) *Promoter {
	return New(f.host, Settings{
		TargetRoot:  f.root,
		License:     "opensource",
		Staging:     staging,
		Production:  production,
		Repogen:     "repogen",
		Concurrency: 2,
	}, opts...)
}

func (f *fixture) build(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, files)
	return dir
}

func (f *fixture) area(area Area, repoPath string) string {
	return filepath.Join(f.root, "opensource", string(area), filepath.FromSlash(repoPath))
}

func TestPromote_NewRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	src := f.build(t, map[string]string{
		IndexFile:               updatesXML("qt.tools", "1.0.0"),
		"qt.tools/1.0.0meta.7z": "meta",
	})
	p := f.promoter(true, false)

	res, err := p.Promote(context.Background(), UpdateJob{RepoPath: "linux_x64/desktop/tools", Source: src})
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State)
	require.Len(t, res.Areas, 1)
	require.Equal(t, ActionReplaced, res.Areas[0].Action)
	require.Empty(t, res.Areas[0].Backup)

	staged := testutil.ReadTree(t, f.area(AreaStaging, "linux_x64/desktop/tools"))
	require.Equal(t, "meta", staged["qt.tools/1.0.0meta.7z"])
	require.NoDirExists(t, f.area(AreaPending, "linux_x64/desktop/tools"))
	require.Empty(t, f.tools.Calls())
}

func TestPromote_UploadOnlyKeepsPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pending := f.area(AreaPending, "linux_x64/tools")
	testutil.WriteTree(t, pending, map[string]string{"stale.7z": "old"})
	src := f.build(t, map[string]string{IndexFile: updatesXML("a", "1.0")})

	res, err := f.promoter(false, false).Promote(context.Background(), UpdateJob{RepoPath: "linux_x64/tools", Source: src})
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State)
	require.Equal(t, map[string]string{IndexFile: updatesXML("a", "1.0")}, testutil.ReadTree(t, pending))
}

func TestResetRepository_KeepsSingleBackup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.promoter(true, false)
	ctx := context.Background()
	target := f.area(AreaStaging, "linux_x64/tools")
	testutil.WriteTree(t, target, map[string]string{"v0.txt": "v0"})

	first := f.build(t, map[string]string{"v1.txt": "v1"})
	backup, err := p.ResetRepository(ctx, first, target)
	require.NoError(t, err)
	require.Equal(t, target+BackupSuffix, backup)
	require.Equal(t, map[string]string{"v0.txt": "v0"}, testutil.ReadTree(t, backup))
	require.Equal(t, map[string]string{"v1.txt": "v1"}, testutil.ReadTree(t, target))

	second := f.build(t, map[string]string{"v2.txt": "v2"})
	_, err = p.ResetRepository(ctx, second, target)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"v1.txt": "v1"}, testutil.ReadTree(t, backup))
	require.Equal(t, map[string]string{"v2.txt": "v2"}, testutil.ReadTree(t, target))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(target), "*"+BackupSuffix+"*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestPromote_MergesExistingStaging(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := f.area(AreaStaging, "linux_x64/tools")
	testutil.WriteTree(t, target, map[string]string{IndexFile: updatesXML("qt.tools", "1.0.0")})
	src := f.build(t, map[string]string{IndexFile: updatesXML("qt.tools", "1.0.1")})

	res, err := f.promoter(true, false).Promote(context.Background(), UpdateJob{RepoPath: "linux_x64/tools", Source: src})
	require.NoError(t, err)
	require.Equal(t, ActionMerged, res.Areas[0].Action)

	calls := f.tools.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"repogen", "--update", "--repository", f.area(AreaPending, "linux_x64/tools"), target}, calls[0])
	require.Equal(t, updatesXML("qt.tools", "1.0.1"), testutil.MustReadFile(t, filepath.Join(target, IndexFile)))
	require.NoDirExists(t, target+BackupSuffix)
}

func TestPromote_Production(t *testing.T) {
	t.Parallel()

	t.Run("skips when nothing advances", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		target := f.area(AreaProduction, "linux_x64/tools")
		testutil.WriteTree(t, target, map[string]string{IndexFile: updatesXML("qt.tools", "2.0.0", "qt.doc", "1.0")})
		src := f.build(t, map[string]string{IndexFile: updatesXML("qt.tools", "1.9.9", "qt.doc", "1.0")})

		res, err := f.promoter(false, true).Promote(context.Background(), UpdateJob{RepoPath: "linux_x64/tools", Source: src})
		require.NoError(t, err)
		require.Equal(t, ActionSkipped, res.Areas[0].Action)
		require.Empty(t, f.tools.Calls())
		require.NoDirExists(t, f.area(AreaPending, "linux_x64/tools"))
	})

	t.Run("merges new components only", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		target := f.area(AreaProduction, "linux_x64/tools")
		testutil.WriteTree(t, target, map[string]string{IndexFile: updatesXML("qt.tools", "1.0.0-1")})
		src := f.build(t, map[string]string{IndexFile: updatesXML("qt.tools", "1.0.0-2", "qt.new", "0.1")})

		res, err := f.promoter(true, true).Promote(context.Background(), UpdateJob{RepoPath: "linux_x64/tools", Source: src})
		require.NoError(t, err)
		require.Len(t, res.Areas, 2)
		require.Equal(t, ActionReplaced, res.Areas[0].Action)
		prod := res.Areas[1]
		require.Equal(t, ActionMerged, prod.Action)
		require.Equal(t, []Advance{
			{Name: "qt.new", To: "0.1"},
			{Name: "qt.tools", From: "1.0.0-1", To: "1.0.0-2"},
		}, prod.Advances)

		calls := f.tools.Calls()
		require.Len(t, calls, 1)
		require.Equal(t, "--update-new-components", calls[0][1])
	})
}

func TestPromote_MissingSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.promoter(true, false).Promote(context.Background(), UpdateJob{RepoPath: "x", Source: filepath.Join(f.root, "missing")})
	var je *JobError
	require.ErrorAs(t, err, &je)
	require.Equal(t, StepUpload, je.Step)
	require.ErrorIs(t, err, ErrPromote)
}

func TestRun_ConcurrentJobsAndNotification(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := newFixture(t)
	var jobs []UpdateJob
	for _, rp := range []string{"linux_x64/a", "linux_x64/b", "windows_x64/a"} {
		jobs = append(jobs, UpdateJob{RepoPath: rp, Source: f.build(t, map[string]string{IndexFile: updatesXML(rp, "1.0")})})
	}
	jobs[0].RTAKeys = []string{"qt-tools"}
	jobs[1].RTAKeys = []string{"broken"}

	p := f.promoter(true, false, WithNotifier(NewRTANotifier(srv.URL+"/rta/", srv.Client(), nil)))
	res, err := p.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 3)
	for i, jr := range res.Jobs {
		require.Equal(t, jobs[i].RepoPath, jr.RepoPath)
		require.Equal(t, StateDone, jr.State)
		require.FileExists(t, filepath.Join(f.area(AreaStaging, jr.RepoPath), IndexFile))
	}
	require.True(t, res.Jobs[0].Notified)
	require.False(t, res.Jobs[1].Notified)
	require.False(t, res.Jobs[2].Notified)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{
		"POST /rta/qt-tools/build?repo_path=linux_x64%2Fa",
		"POST /rta/broken/build?repo_path=linux_x64%2Fb",
	}, hits)
}

func TestRun_DuplicateRepoPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.promoter(true, false).Run(context.Background(), []UpdateJob{
		{RepoPath: "linux_x64/a", Source: "x"},
		{RepoPath: "linux_x64/a/", Source: "y"},
	})
	var de *DuplicateRepoPathError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "linux_x64/a", de.RepoPath)
	require.NoDirExists(t, filepath.Join(f.root, "opensource"))
}

func TestRun_RejectsUnsafeRepoPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		jobs []UpdateJob
		want error
	}{
		{"whole area", []UpdateJob{{RepoPath: ".", Source: "x"}}, ErrInvalidRepoPath},
		{"empty", []UpdateJob{{RepoPath: "", Source: "x"}}, ErrInvalidRepoPath},
		{"absolute", []UpdateJob{{RepoPath: "/linux_x64", Source: "x"}}, ErrInvalidRepoPath},
		{"parent escape", []UpdateJob{{RepoPath: "linux_x64/../..", Source: "x"}}, ErrInvalidRepoPath},
		{"nested", []UpdateJob{{RepoPath: "linux_x64/a/b", Source: "x"}, {RepoPath: "linux_x64/a", Source: "y"}}, ErrOverlappingRepoPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.promoter(true, false).Run(context.Background(), tt.jobs)
			require.ErrorIs(t, err, tt.want)
			require.NoDirExists(t, filepath.Join(f.root, "opensource"))
		})
	}
}

func TestPromote_RejectsWholeArea(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.promoter(true, false).Promote(context.Background(), UpdateJob{RepoPath: ".", Source: "x"})
	require.ErrorIs(t, err, ErrInvalidRepoPath)
	require.ErrorIs(t, err, ErrPromote)
	require.NoDirExists(t, filepath.Join(f.root, "opensource"))
}
