// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// Settings locates the repository tree and the ledger file.
	Settings struct {
		Root    string
		License string
		Target  Target
		// File is the ledger file; defaults to <root>/<license>/ledger.yaml.
		File string
	}

	// Manager drives scan, reconcile and commit against one ledger file.
	Manager struct {
		settings Settings
		store    *Store
		logger   *log.Logger
		now      func() time.Time
	}

	// Option configures a Manager.
	Option func(*Manager)

	// RunResult summarizes a run.
	RunResult struct {
		// Committed are the jobs that reached done during the run.
		Committed []Job
		// Moved counts data files moved in Phase A.
		Moved int
		// Backups are the retained official index backups.
		Backups []string
		Jobs    []Job
	}
)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the clock used for backup timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(s Settings, opts ...Option) *Manager {
	if s.Target == "" {
		s.Target = TargetProduction
	}
	if s.File == "" {
		s.File = DefaultFile(s.Root, s.License)
	}
	m := &Manager{settings: s, store: NewStore(s.File), logger: log.New(io.Discard), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithPrefix("ledger")
	return m
}

// DefaultFile is the ledger location used when none is configured.
func DefaultFile(root, license string) string {
	return filepath.Join(root, license, "ledger.yaml")
}

// Store returns the manager's ledger store.
func (m *Manager) Store() *Store { return m.store }

// Status returns the persisted jobs.
func (m *Manager) Status() ([]Job, error) {
	return m.store.Load()
}

// Scan reconciles the pending tree with the ledger and persists the result.
func (m *Manager) Scan() ([]Job, error) {
	persisted, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	scanned, err := Scan(m.settings.Root, m.settings.License, m.settings.Target)
	if err != nil {
		return nil, err
	}
	jobs, err := Reconcile(persisted, scanned)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(jobs); err != nil {
		return nil, err
	}
	m.logger.Debug("scanned", "pending", len(scanned), "jobs", len(jobs))
	return jobs, nil
}

// Run scans, then commits every job that is not done. Each state change is
// persisted before the next step starts. The first error stops the run with
// the ledger reflecting the progress made.
func (m *Manager) Run(ctx context.Context) (*RunResult, error) {
	jobs, err := m.Scan()
	if err != nil {
		return nil, err
	}
	res := &RunResult{Jobs: jobs}
	for i := range jobs {
		if jobs[i].State == StateDone {
			continue
		}
		if err := m.commit(ctx, jobs, i, res); err != nil {
			return res, err
		}
		res.Committed = append(res.Committed, jobs[i])
	}
	return res, nil
}

func (m *Manager) commit(ctx context.Context, jobs []Job, i int, res *RunResult) error {
	job := &jobs[i]
	logger := m.logger.With("repo", job.RepoPath)

	// Ongoing jobs repeat Phase A so data that arrived after an interrupted
	// run lands before the index.
	moved, err := MoveData(ctx, *job)
	res.Moved += moved
	if err != nil {
		return err
	}
	if job.State == StateInitial {
		job.State = StateOngoing
		if err := m.store.Save(jobs); err != nil {
			return err
		}
	}
	if moved > 0 {
		logger.Info("data files moved", "count", moved)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	backup, err := SwapIndex(*job, m.now())
	if err != nil {
		return err
	}
	if backup != "" {
		res.Backups = append(res.Backups, backup)
	}
	job.State = StateDone
	if err := m.store.Save(jobs); err != nil {
		return err
	}
	logger.Info("index swapped", "target", job.TargetIndexPath)
	return nil
}

// Clear drops done jobs from the ledger and returns how many were removed.
func (m *Manager) Clear() (int, error) {
	jobs, err := m.store.Load()
	if err != nil {
		return 0, err
	}
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.State != StateDone {
			kept = append(kept, j)
		}
	}
	if err := m.store.Save(kept); err != nil {
		return 0, err
	}
	return len(jobs) - len(kept), nil
}
