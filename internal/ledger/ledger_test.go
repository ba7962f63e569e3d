// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invowk/stagehand/internal/testutil"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func pendingDir(root string) string {
	return filepath.Join(root, "opensource", "pending")
}

func productionDir(root string) string {
	return filepath.Join(root, "opensource", "production")
}

func TestScan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteTree(t, pendingDir(root), map[string]string{
		"linux_x64/desktop/tools/Updates.xml":       "<Updates/>",
		"linux_x64/desktop/tools/qt.tools/1meta.7z": "m",
		"windows_x64/desktop/qt6/Updates.xml":       "<Updates/>",
		"Updates.xml":                               "ignored",
	})

	jobs, err := Scan(root, "opensource", TargetProduction)
	require.NoError(t, err)
	require.Equal(t, []Job{
		{
			RepoPath:          "linux_x64/desktop/tools",
			SourceIndexPath:   filepath.Join(pendingDir(root), "linux_x64", "desktop", "tools", IndexFile),
			PlatformSpecifier: "linux_x64",
			RepoSpecifier:     "tools",
			State:             StateInitial,
			TargetIndexPath:   filepath.Join(productionDir(root), "linux_x64", "desktop", "tools", IndexFile),
		},
		{
			RepoPath:          "windows_x64/desktop/qt6",
			SourceIndexPath:   filepath.Join(pendingDir(root), "windows_x64", "desktop", "qt6", IndexFile),
			PlatformSpecifier: "windows_x64",
			RepoSpecifier:     "qt6",
			State:             StateInitial,
			TargetIndexPath:   filepath.Join(productionDir(root), "windows_x64", "desktop", "qt6", IndexFile),
		},
	}, jobs)

	none, err := Scan(t.TempDir(), "opensource", TargetStaging)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	got, err := ParseTarget("Staging")
	require.NoError(t, err)
	require.Equal(t, TargetStaging, got)
	_, err = ParseTarget("pending")
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteTree(t, pendingDir(root), map[string]string{
		"fresh/Updates.xml":   "<Updates/>",
		"partial/Updates.xml": "<Updates/>",
		"partial/data.7z":     "d",
	})
	job := func(repo string, state State, target string) Job {
		return Job{
			RepoPath:        repo,
			SourceIndexPath: filepath.Join(pendingDir(root), repo, IndexFile),
			State:           state,
			TargetIndexPath: target,
		}
	}

	t.Run("fresh scan replaces a done job", func(t *testing.T) {
		t.Parallel()
		got, err := Reconcile(
			[]Job{job("fresh", StateDone, "persisted")},
			[]Job{job("fresh", StateInitial, "scanned")},
		)
		require.NoError(t, err)
		require.Equal(t, []Job{job("fresh", StateInitial, "scanned")}, got)
	})

	t.Run("tie keeps the persisted job", func(t *testing.T) {
		t.Parallel()
		got, err := Reconcile(
			[]Job{job("fresh", StateInitial, "persisted")},
			[]Job{job("fresh", StateInitial, "scanned")},
		)
		require.NoError(t, err)
		require.Equal(t, "persisted", got[0].TargetIndexPath)
	})

	t.Run("stale scan keeps an ongoing job", func(t *testing.T) {
		t.Parallel()
		got, err := Reconcile(
			[]Job{job("partial", StateOngoing, "persisted")},
			[]Job{job("partial", StateInitial, "scanned")},
		)
		require.NoError(t, err)
		require.Equal(t, []Job{job("partial", StateOngoing, "persisted")}, got)
	})

	t.Run("new and old jobs are both kept", func(t *testing.T) {
		t.Parallel()
		got, err := Reconcile(
			[]Job{job("gone", StateDone, "a")},
			[]Job{job("fresh", StateInitial, "b")},
		)
		require.NoError(t, err)
		require.Equal(t, []string{"gone", "fresh"}, []string{got[0].RepoPath, got[1].RepoPath})
	})

	t.Run("duplicates are inconsistent", func(t *testing.T) {
		t.Parallel()
		_, err := Reconcile([]Job{job("a", StateDone, ""), job("a", StateInitial, "")}, nil)
		var ce *LedgerConsistencyError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "a", ce.RepoPath)
		require.ErrorIs(t, err, ErrLedgerConsistency)
	})
}

func newJob(t *testing.T, root, repo string, files map[string]string) Job {
	t.Helper()
	testutil.WriteTree(t, filepath.Join(pendingDir(root), repo), files)
	jobs, err := Scan(root, "opensource", TargetProduction)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.RepoPath == repo {
			return j
		}
	}
	t.Fatalf("job %s not scanned", repo)
	return Job{}
}

func TestMoveData(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	job := newJob(t, root, "linux_x64/tools", map[string]string{
		IndexFile:                   "<Updates/>",
		"qt.tools/1.0meta.7z":       "meta",
		"qt.tools/1.0content.7z":    "content",
		"qt.tools/deep/nested.sha1": "abc",
	})
	testutil.WriteTree(t, job.TargetDir(), map[string]string{"qt.tools/1.0meta.7z": "meta"})

	moved, err := MoveData(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 3, moved)
	require.Equal(t, map[string]string{IndexFile: "<Updates/>"}, testutil.ReadTree(t, job.SourceDir()))
	require.NoDirExists(t, filepath.Join(job.SourceDir(), "qt.tools"))
	require.Equal(t, map[string]string{
		"qt.tools/1.0meta.7z":       "meta",
		"qt.tools/1.0content.7z":    "content",
		"qt.tools/deep/nested.sha1": "abc",
	}, testutil.ReadTree(t, job.TargetDir()))

	moved, err = MoveData(context.Background(), job)
	require.NoError(t, err)
	require.Zero(t, moved)
	require.Len(t, testutil.ReadTree(t, job.TargetDir()), 3)
}

func TestMoveData_ConflictIsFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	job := newJob(t, root, "linux_x64/tools", map[string]string{
		IndexFile:       "<Updates/>",
		"qt.tools/a.7z": "new build",
	})
	testutil.WriteTree(t, job.TargetDir(), map[string]string{"qt.tools/a.7z": "released build"})

	_, err := MoveData(context.Background(), job)
	var de *DataConflictError
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, ErrDataConflict)
	require.Equal(t, filepath.Join(job.TargetDir(), "qt.tools", "a.7z"), de.Target)
	require.NotEqual(t, de.SourceDigest, de.TargetDigest)
	require.Equal(t, "released build", testutil.MustReadFile(t, de.Target))
	require.Equal(t, "new build", testutil.MustReadFile(t, de.Source))
}

func TestMoveData_LeavesNestedJobs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	job := newJob(t, root, "linux_x64", map[string]string{
		IndexFile:            "<Updates/>",
		"a.7z":               "a",
		"nested/Updates.xml": "<Updates/>",
		"nested/b.7z":        "b",
	})
	moved, err := MoveData(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 1, moved)
	require.FileExists(t, filepath.Join(job.SourceDir(), "nested", "b.7z"))
}

func TestSwapIndex(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	job := newJob(t, root, "linux_x64/tools", map[string]string{IndexFile: "<Updates>new</Updates>"})
	testutil.WriteTree(t, job.TargetDir(), map[string]string{IndexFile: "<Updates>old</Updates>"})

	backup, err := SwapIndex(job, fixedNow)
	require.NoError(t, err)
	require.Equal(t, job.TargetIndexPath+"_backup_official_20260304050607", backup)
	require.Equal(t, "<Updates>old</Updates>", testutil.MustReadFile(t, backup))
	require.Equal(t, "<Updates>new</Updates>", testutil.MustReadFile(t, job.TargetIndexPath))
	require.NoFileExists(t, job.TargetIndexPath+"_backup_20260304050607")
	require.NoDirExists(t, job.SourceDir())

	backup, err = SwapIndex(job, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, backup)
	require.Equal(t, "<Updates>new</Updates>", testutil.MustReadFile(t, job.TargetIndexPath))
}

func TestSwapIndex_NewTarget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	job := newJob(t, root, "linux_x64/tools", map[string]string{IndexFile: "<Updates/>"})
	backup, err := SwapIndex(job, fixedNow)
	require.NoError(t, err)
	require.Empty(t, backup)
	require.FileExists(t, job.TargetIndexPath)

	lost := job
	lost.TargetIndexPath = filepath.Join(root, "elsewhere", IndexFile)
	_, err = SwapIndex(lost, fixedNow)
	require.Error(t, err)
}

func TestStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "state", "ledger.yaml"))

	jobs, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, jobs)

	want := []Job{{RepoPath: "a", SourceIndexPath: "/p/a/Updates.xml", PlatformSpecifier: "a", RepoSpecifier: "a", State: StateOngoing, TargetIndexPath: "/t/a/Updates.xml"}}
	require.NoError(t, s.Save(want))
	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)

	content := testutil.MustReadFile(t, s.Path())
	require.Contains(t, content, "repo_path: a")
	require.Contains(t, content, "state: ongoing")
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not remain")

	testutil.MustWriteFile(t, s.Path(), "version: 1\njobs:\n  - repo_path: a\n    state: paused\n")
	_, err = s.Load()
	require.ErrorContains(t, err, "unknown state")

	testutil.MustWriteFile(t, s.Path(), "version: 1\njobs:\n  - repo_path: a\n    state: done\n  - repo_path: a\n    state: initial\n")
	_, err = s.Load()
	require.ErrorIs(t, err, ErrLedgerConsistency)
}

func TestManager_RunAndClear(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteTree(t, pendingDir(root), map[string]string{
		"linux_x64/tools/Updates.xml":   "<Updates>tools</Updates>",
		"linux_x64/tools/qt.tools/a.7z": "a",
		"linux_x64/qt6/Updates.xml":     "<Updates>qt6</Updates>",
		"linux_x64/qt6/qt.qt6/b.7z":     "b",
	})
	testutil.WriteTree(t, productionDir(root), map[string]string{
		"linux_x64/qt6/Updates.xml": "<Updates>qt6 old</Updates>",
	})
	m := New(Settings{Root: root, License: "opensource"}, WithClock(func() time.Time { return fixedNow }))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Committed, 2)
	require.Equal(t, 2, res.Moved)
	require.Len(t, res.Backups, 1)

	prod := testutil.ReadTree(t, productionDir(root))
	require.Equal(t, "<Updates>tools</Updates>", prod["linux_x64/tools/Updates.xml"])
	require.Equal(t, "<Updates>qt6</Updates>", prod["linux_x64/qt6/Updates.xml"])
	require.Equal(t, "<Updates>qt6 old</Updates>", prod["linux_x64/qt6/Updates.xml_backup_official_20260304050607"])
	require.Equal(t, "b", prod["linux_x64/qt6/qt.qt6/b.7z"])
	require.Empty(t, testutil.ReadTree(t, pendingDir(root)))

	jobs, err := m.Status()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, StateDone, j.State)
	}

	again, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, again.Committed)

	n, err := m.Clear()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	jobs, err = m.Status()
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestManager_ResumesOngoingJob(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := New(Settings{Root: root, License: "opensource"}, WithClock(func() time.Time { return fixedNow }))
	job := newJob(t, root, "linux_x64/tools", map[string]string{IndexFile: "<Updates/>", "x.7z": "x"})

	// Phase A finished before the previous process stopped.
	_, err := MoveData(context.Background(), job)
	require.NoError(t, err)
	job.State = StateOngoing
	require.NoError(t, m.Store().Save([]Job{job}))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)
	require.Zero(t, res.Moved)
	require.FileExists(t, job.TargetIndexPath)
	require.FileExists(t, filepath.Join(job.TargetDir(), "x.7z"))
}

func TestManager_OngoingJobMovesLateData(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := New(Settings{Root: root, License: "opensource"}, WithClock(func() time.Time { return fixedNow }))
	job := newJob(t, root, "linux_x64/tools", map[string]string{IndexFile: "<Updates/>", "x.7z": "x"})

	_, err := MoveData(context.Background(), job)
	require.NoError(t, err)
	job.State = StateOngoing
	require.NoError(t, m.Store().Save([]Job{job}))

	// More data arrives in pending before the job resumes.
	late := filepath.Join(job.SourceDir(), "qt.tools", "late.7z")
	require.NoError(t, os.MkdirAll(filepath.Dir(late), 0o755))
	require.NoError(t, os.WriteFile(late, []byte("late"), 0o644))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)
	require.Equal(t, 1, res.Moved)
	require.FileExists(t, job.TargetIndexPath)
	require.FileExists(t, filepath.Join(job.TargetDir(), "qt.tools", "late.7z"))
	require.NoFileExists(t, late)
}

func TestManager_ConflictStopsAndPersistsProgress(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteTree(t, pendingDir(root), map[string]string{
		"linux_x64/tools/Updates.xml": "<Updates/>",
		"linux_x64/tools/a.7z":        "new",
	})
	testutil.WriteTree(t, productionDir(root), map[string]string{"linux_x64/tools/a.7z": "old"})
	m := New(Settings{Root: root, License: "opensource"})

	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrDataConflict)
	jobs, err := m.Status()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, StateInitial, jobs[0].State)
	require.NoFileExists(t, filepath.Join(productionDir(root), "linux_x64", "tools", IndexFile))
}
