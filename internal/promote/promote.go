// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/invowk/stagehand/internal/config"
	"github.com/invowk/stagehand/internal/remote"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// BackupSuffix names the single snapshot kept when a repository is replaced.
const BackupSuffix = "____snapshot_backup"

const (
	// AreaPending is owned by the pipeline; it holds uploads awaiting promotion.
	AreaPending Area = "pending"
	// AreaStaging is merged with full updates.
	AreaStaging Area = "staging"
	// AreaProduction only receives components with a higher version.
	AreaProduction Area = "production"

	StepUpload  Step = "upload"
	StepReplace Step = "replace"
	StepMerge   Step = "merge"
	StepCleanup Step = "cleanup"

	StateInitial State = "initial"
	StateOngoing State = "ongoing"
	StateDone    State = "done"

	// ActionReplaced means the target had no index and received a fresh copy.
	ActionReplaced Action = "replaced"
	// ActionMerged means the repository generator merged pending into the target.
	ActionMerged Action = "merged"
	// ActionSkipped means no pending component was newer than production.
	ActionSkipped Action = "skipped"
)

type (
	// Area is one of the repository areas below <root>/<license>.
	Area string
	// Step names a phase of a promotion job.
	Step string
	// State is the progress of a job; it only moves forward.
	State string
	// Action is what happened to one target area.
	Action string

	// Settings configures a Promoter.
	Settings struct {
		// TargetRoot is the repository root on the host.
		TargetRoot string
		License    string
		Staging    bool
		Production bool
		// Repogen is the repository generator path on the host.
		Repogen string
		// Concurrency bounds jobs promoted at once.
		Concurrency int
	}

	// AreaResult describes the promotion into one area.
	AreaResult struct {
		Area     Area
		Action   Action
		Backup   string
		Advances []Advance
	}

	// JobResult describes one job.
	JobResult struct {
		RepoPath string
		State    State
		Areas    []AreaResult
		Notified bool
		Duration time.Duration
	}

	// Result collects the job results of a run in job order.
	Result struct {
		Jobs []JobResult
	}

	// Promoter runs promotion jobs against one host.
	Promoter struct {
		host     remote.Host
		settings Settings
		notifier Notifier
		logger   *log.Logger
		now      func() time.Time
	}

	// Option configures a Promoter.
	Option func(*Promoter)
)

// WithNotifier sets the release-test notifier; without one RTA keys are ignored.
func WithNotifier(n Notifier) Option {
	return func(p *Promoter) { p.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Promoter) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(p *Promoter) { p.now = now }
}

// SettingsFromConfig maps the promote section onto Settings.
func SettingsFromConfig(cfg config.PromoteConfig) Settings {
	return Settings{
		TargetRoot:  cfg.TargetRoot,
		License:     cfg.License,
		Repogen:     cfg.Repogen,
		Concurrency: cfg.Concurrency,
	}
}

// New creates a Promoter for host.
func New(host remote.Host, s Settings, opts ...Option) *Promoter {
	if s.Repogen == "" {
		s.Repogen = "repogen"
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	p := &Promoter{host: host, settings: s, logger: log.New(io.Discard), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithPrefix("promote")
	return p
}

// AreaPath returns the host path of repoPath inside area.
func (p *Promoter) AreaPath(area Area, repoPath string) string {
	return path.Join(p.settings.TargetRoot, p.settings.License, string(area), repoPath)
}

// Run promotes jobs, concurrently across repository paths. The first fatal
// error cancels the remaining jobs.
func (p *Promoter) Run(ctx context.Context, jobs []UpdateJob) (*Result, error) {
	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}
	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.Concurrency)
	for i, job := range jobs {
		results[i] = JobResult{RepoPath: job.RepoPath, State: StateInitial}
		g.Go(func() error {
			res, err := p.Promote(gctx, job)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return &Result{Jobs: results}, err
}

// Promote runs one job: upload to pending, promote into the requested
// areas, then clear pending and notify.
func (p *Promoter) Promote(ctx context.Context, job UpdateJob) (JobResult, error) {
	start := p.now()
	res := JobResult{RepoPath: job.RepoPath, State: StateInitial}
	logger := p.logger.With("repo", job.RepoPath)
	if err := CheckRepoPath(job.RepoPath); err != nil {
		return res, &JobError{RepoPath: job.RepoPath, Step: StepUpload, Err: err}
	}
	pending := p.AreaPath(AreaPending, job.RepoPath)

	logger.Info("uploading", "source", job.Source, "pending", pending)
	if err := p.host.RemoveAll(ctx, pending); err != nil {
		return res, &JobError{RepoPath: job.RepoPath, Step: StepUpload, Err: err}
	}
	if err := p.host.Upload(ctx, job.Source, pending); err != nil {
		return res, &JobError{RepoPath: job.RepoPath, Step: StepUpload, Err: err}
	}
	res.State = StateOngoing

	for _, area := range p.targets() {
		ar, err := p.promoteArea(ctx, logger, pending, area, job.RepoPath)
		if err != nil {
			return res, err
		}
		res.Areas = append(res.Areas, ar)
	}

	if len(res.Areas) > 0 {
		if err := p.host.RemoveAll(ctx, pending); err != nil {
			return res, &JobError{RepoPath: job.RepoPath, Step: StepCleanup, Err: err}
		}
	}
	res.State = StateDone
	res.Duration = p.now().Sub(start)

	if len(job.RTAKeys) > 0 && p.notifier != nil {
		if err := p.notifier.Notify(ctx, job.RepoPath, job.RTAKeys); err != nil {
			logger.Warn("release test notification failed", "err", err)
		} else {
			res.Notified = true
		}
	}
	logger.Info("promoted", "areas", len(res.Areas), "duration", res.Duration)
	return res, nil
}

func (p *Promoter) targets() []Area {
	var areas []Area
	if p.settings.Staging {
		areas = append(areas, AreaStaging)
	}
	if p.settings.Production {
		areas = append(areas, AreaProduction)
	}
	return areas
}

func (p *Promoter) promoteArea(ctx context.Context, logger *log.Logger, pending string, area Area, repoPath string) (AreaResult, error) {
	target := p.AreaPath(area, repoPath)
	ar := AreaResult{Area: area}
	logger = logger.With("area", area)

	hasIndex, err := p.host.Exists(ctx, path.Join(target, IndexFile))
	if err != nil {
		return ar, &JobError{RepoPath: repoPath, Step: StepMerge, Err: err}
	}
	if !hasIndex {
		logger.Info("no index at target, replacing repository", "target", target)
		backup, err := p.ResetRepository(ctx, pending, target)
		if err != nil {
			return ar, &JobError{RepoPath: repoPath, Step: StepReplace, Err: err}
		}
		ar.Action, ar.Backup = ActionReplaced, backup
		return ar, nil
	}

	mode := "--update"
	if area == AreaProduction {
		mode = "--update-new-components"
		advances, err := p.plan(ctx, pending, target)
		if err != nil {
			return ar, &JobError{RepoPath: repoPath, Step: StepMerge, Err: err}
		}
		for _, a := range advances {
			logger.Info("component advances", "component", a.Name, "from", a.From, "to", a.To)
		}
		ar.Advances = advances
		if len(advances) == 0 {
			logger.Info("no component advances, skipping merge")
			ar.Action = ActionSkipped
			return ar, nil
		}
	}

	if _, err := p.host.CheckLong(ctx, p.settings.Repogen, mode, "--repository", pending, target); err != nil {
		return ar, &JobError{RepoPath: repoPath, Step: StepMerge, Err: err}
	}
	ar.Action = ActionMerged
	return ar, nil
}

func (p *Promoter) plan(ctx context.Context, pending, target string) ([]Advance, error) {
	read := func(dir string) (Index, error) {
		data, err := p.host.ReadFile(ctx, path.Join(dir, IndexFile))
		if err != nil {
			return nil, err
		}
		idx, err := ParseIndex([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		return idx, nil
	}
	from, err := read(pending)
	if err != nil {
		return nil, err
	}
	to, err := read(target)
	if err != nil {
		return nil, err
	}
	return Advances(from, to), nil
}

// ResetRepository replaces target with a copy of source. An existing target
// is first renamed to target+BackupSuffix, deleting any older backup so at
// most one generation is kept. It returns the backup path, or "" when there
// was nothing to back up.
func (p *Promoter) ResetRepository(ctx context.Context, source, target string) (string, error) {
	exists, err := p.host.Exists(ctx, target)
	if err != nil {
		return "", err
	}
	backup := ""
	if exists {
		backup = target + BackupSuffix
		old, err := p.host.Exists(ctx, backup)
		if err != nil {
			return "", err
		}
		if old {
			p.logger.Debug("deleting previous backup", "path", backup)
			if err := p.host.RemoveAll(ctx, backup); err != nil {
				return "", err
			}
		}
		if err := p.host.Rename(ctx, target, backup); err != nil {
			return "", err
		}
	}
	if err := p.host.MkdirAll(ctx, target); err != nil {
		return backup, err
	}
	if err := p.host.CopyTree(ctx, source, target); err != nil {
		return backup, err
	}
	return backup, nil
}
