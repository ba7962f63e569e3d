// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"

	"github.com/invowk/stagehand/internal/config"
	"github.com/invowk/stagehand/internal/promote"
	"github.com/invowk/stagehand/internal/report"

	"github.com/spf13/cobra"
)

type (
	// areaOptions locate repositories on the repository host.
	areaOptions struct {
		targetRoot string
		license    string
		host       string
	}

	promoteOptions struct {
		areaOptions
		jobSource  string
		staging    bool
		production bool
		sync       []string
	}

	syncOptions struct {
		areaOptions
		target string
	}
)

func (o *areaOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.targetRoot, "target-root", "", "repository root on the host (default promote.target_root)")
	f.StringVar(&o.license, "license", "", "license area below the root (default promote.license)")
	f.StringVar(&o.host, "host", "", "repository host (default remote.host; empty or localhost runs locally)")
}

// apply overrides the configured locations with the flags that were set.
func (o areaOptions) apply(cfg config.Config) (config.RemoteConfig, promote.Settings, error) {
	rc := cfg.Remote
	if o.host != "" {
		rc.Host = o.host
	}
	s := promote.SettingsFromConfig(cfg.Promote)
	if o.targetRoot != "" {
		s.TargetRoot = o.targetRoot
	}
	if o.license != "" {
		s.License = o.license
	}
	if s.TargetRoot == "" {
		return rc, s, errors.New("no target root: pass --target-root or set promote.target_root")
	}
	if s.License == "" {
		return rc, s, errors.New("no license: pass --license or set promote.license")
	}
	return rc, s, nil
}

func newPromoteCommand(app *App) *cobra.Command {
	var opts promoteOptions
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote repositories from a job source through staging and production",
		Long: `Promote repositories listed in a job source file.

Each job uploads its source into the pending area. With --update-staging and
--update-production the pending content is then merged into, or replaces,
the target areas. An existing target is kept as one snapshot backup while it
is replaced. Jobs run concurrently up to promote.concurrency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPromote(cmd.Context(), app, opts)
		},
	}
	opts.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.jobSource, "job-source", "", "CUE job source file")
	f.BoolVar(&opts.staging, "update-staging", false, "promote into the staging area")
	f.BoolVar(&opts.production, "update-production", false, "promote into the production area")
	f.StringSliceVar(&opts.sync, "sync", nil, "mirror production afterwards: s3, ext (repeatable)")
	_ = cmd.MarkFlagRequired("job-source")

	return cmd
}

func runPromote(ctx context.Context, app *App, opts promoteOptions) error {
	cfg, err := app.load(ctx)
	if err != nil {
		return err
	}
	rc, s, err := opts.apply(cfg)
	if err != nil {
		return err
	}
	s.Staging = opts.staging
	s.Production = opts.production

	targets := make([]promote.MirrorTarget, 0, len(opts.sync))
	for _, t := range opts.sync {
		target, err := promote.ParseMirrorTarget(t)
		if err != nil {
			return err
		}
		targets = append(targets, target)
	}

	jobs, err := promote.LoadJobs(opts.jobSource)
	if err != nil {
		return actionable(err, "load job source", opts.jobSource,
			"Every job needs a relative repo_path and a source directory")
	}

	host, closer := app.remoteHost(rc)
	defer func() { _ = closer.Close() }()

	logger := app.Logger()
	popts := []promote.Option{promote.WithLogger(logger)}
	if cfg.Promote.RTAURL != "" {
		popts = append(popts, promote.WithNotifier(promote.NewRTANotifier(cfg.Promote.RTAURL, app.HTTPClient, logger)))
	}
	result, runErr := promote.New(host, s, popts...).Run(ctx, jobs)
	if runErr != nil {
		if result != nil {
			_ = app.render(report.Promote(result, nil))
		}
		return actionable(runErr, "promote repositories", host.Name,
			"Re-run the same job source; finished steps are repeated safely")
	}

	var tasks []promote.SyncTask
	if len(targets) > 0 {
		repoPaths := make([]string, 0, len(jobs))
		for _, j := range jobs {
			repoPaths = append(repoPaths, j.RepoPath)
		}
		mirror := promote.NewMirror(host, cfg.Mirror, s.TargetRoot, s.License, promote.WithMirrorLogger(logger))
		for _, target := range targets {
			started, err := mirror.Sync(ctx, target, repoPaths)
			tasks = append(tasks, started...)
			if err != nil {
				_ = app.render(report.Promote(result, tasks))
				return actionable(err, "start mirror sync", string(target), "Check the mirror section of the configuration")
			}
		}
	}
	return app.render(report.Promote(result, tasks))
}

func newSyncCommand(app *App) *cobra.Command {
	var opts syncOptions
	cmd := &cobra.Command{
		Use:   "sync --target s3|ext <repo-path>...",
		Short: "Mirror production repositories to an external target",
		Long: `Start detached mirror syncs of production repositories.

Each sync runs on the repository host in the background and writes its
output to a log file under mirror.log_dir. The command returns once every
sync has been started.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), app, opts, args)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.target, "target", "", "mirror target: s3 or ext")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runSync(ctx context.Context, app *App, opts syncOptions, repoPaths []string) error {
	cfg, err := app.load(ctx)
	if err != nil {
		return err
	}
	target, err := promote.ParseMirrorTarget(opts.target)
	if err != nil {
		return err
	}
	rc, s, err := opts.apply(cfg)
	if err != nil {
		return err
	}

	host, closer := app.remoteHost(rc)
	defer func() { _ = closer.Close() }()

	mirror := promote.NewMirror(host, cfg.Mirror, s.TargetRoot, s.License, promote.WithMirrorLogger(app.Logger()))
	tasks, err := mirror.Sync(ctx, target, repoPaths)
	if err != nil {
		return actionable(err, "start mirror sync", string(target), "Check the mirror section of the configuration")
	}
	return app.render(report.Promote(nil, tasks))
}
