// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"

	"github.com/invowk/stagehand/internal/assemble"
	"github.com/invowk/stagehand/internal/build"
	"github.com/invowk/stagehand/internal/descriptor"
	"github.com/invowk/stagehand/internal/report"

	"github.com/spf13/cobra"
)

type buildOptions struct {
	descriptor  string
	dryRun      string
	allowBroken bool
	strict      bool
	license     string
	output      string
	installer   string
	repository  bool
}

func newBuildCommand(app *App) *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build component packages, installers and repositories",
		Long: `Build component packages from a descriptor tree.

Every component's payloads are resolved, fetched, patched and repacked on a
bounded worker pool. Component errors are collected: the run continues with
the remaining components and exits with the number of errors (capped at 125).
With --strict any collected error fails the run before assembly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), app, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.descriptor, "descriptor", "", "root component descriptor (TOML)")
	f.StringVar(&opts.dryRun, "dry-run", "", "skip work: payload (no downloads) or configs (no downloads or hash lookups)")
	f.BoolVar(&opts.allowBroken, "allow-broken-components", false, "turn archive generator failures into component errors")
	f.BoolVar(&opts.strict, "strict", false, "fail when any component error is collected")
	f.StringVar(&opts.license, "license", "", "edition used for include filters (overrides the descriptor)")
	f.StringVarP(&opts.output, "output", "o", "out", "output directory")
	f.StringVar(&opts.installer, "installer", "", "installer binary: online, offline or none")
	f.BoolVar(&opts.repository, "repository", false, "generate an update repository")
	_ = cmd.MarkFlagRequired("descriptor")

	return cmd
}

func runBuild(ctx context.Context, app *App, opts buildOptions) error {
	cfg, err := app.load(ctx)
	if err != nil {
		return err
	}
	dryRun, err := build.ParseDryRun(opts.dryRun)
	if err != nil {
		return err
	}
	mode, err := assemble.ParseInstallerMode(opts.installer)
	if err != nil {
		return err
	}

	license := opts.license
	if license == "" {
		license = cfg.Build.License
	}
	res, err := descriptor.Parse(ctx, opts.descriptor, descriptor.Options{
		Namespaces:  cfg.Build.Namespaces,
		License:     license,
		FallbackDir: cfg.Build.FallbackDir,
		Logger:      app.Logger(),
	})
	if err != nil {
		return actionable(err, "parse descriptor", opts.descriptor,
			"Check the [installer] includes and the component sections",
			"Set build.fallback_dir for includes kept outside the descriptor tree")
	}

	s := build.SettingsFromConfig(cfg.Build)
	s.OutputDir = opts.output
	s.Strict = opts.strict
	s.AllowBroken = opts.allowBroken
	s.DryRun = dryRun
	s.Installer = mode
	s.Repository = opts.repository

	result, runErr := build.New(s, build.WithLogger(app.Logger())).Run(ctx, res)
	if result != nil {
		if err := app.render(report.Build(result)); err != nil {
			return err
		}
	}
	var strictErr *build.StrictError
	switch {
	case errors.As(runErr, &strictErr):
		return collectedErrors(strictErr.Count, "component")
	case runErr != nil:
		return actionable(runErr, "build components", opts.descriptor,
			"Run with --verbose to see every payload step")
	}
	return collectedErrors(result.ErrorCount(), "component")
}
