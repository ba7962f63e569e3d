// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/invowk/stagehand/internal/ledger"
	"github.com/invowk/stagehand/internal/report"
	"github.com/invowk/stagehand/internal/watch"

	"github.com/spf13/cobra"
)

type ledgerOptions struct {
	root     string
	license  string
	file     string
	target   string
	debounce time.Duration
}

func newLedgerCommand(app *App) *cobra.Command {
	var opts ledgerOptions
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Commit pending repository trees through the job ledger",
		Long: `Commit pending repository trees into their target area.

Every directory below <root>/<license>/pending that holds an Updates.xml is a
job. A run moves the job's data files into the target first and swaps the
index last, persisting each state change in the ledger file. An interrupted
run resumes where it stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := ledgerCmd.PersistentFlags()
	pf.StringVar(&opts.root, "root", "", "repository root (default promote.target_root)")
	pf.StringVar(&opts.license, "license", "", "license area below the root (default promote.license)")
	pf.StringVar(&opts.file, "ledger", "", "ledger file (default <root>/<license>/ledger.yaml)")
	pf.StringVar(&opts.target, "target", string(ledger.TargetProduction), "target area: staging or production")

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Reconcile the pending tree with the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newLedgerManager(cmd.Context(), app, opts)
			if err != nil {
				return err
			}
			jobs, err := m.Scan()
			if err != nil {
				return actionable(err, "scan pending tree", opts.root)
			}
			return app.render(report.Ledger(jobs))
		},
	})

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the persisted ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newLedgerManager(cmd.Context(), app, opts)
			if err != nil {
				return err
			}
			jobs, err := m.Status()
			if err != nil {
				return actionable(err, "read ledger", m.Store().Path())
			}
			return app.render(report.Ledger(jobs))
		},
	})

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Scan, then commit every job that is not done",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newLedgerManager(cmd.Context(), app, opts)
			if err != nil {
				return err
			}
			return runLedger(cmd.Context(), app, m)
		},
	})

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop done jobs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newLedgerManager(cmd.Context(), app, opts)
			if err != nil {
				return err
			}
			n, err := m.Clear()
			if err != nil {
				return actionable(err, "clear ledger", m.Store().Path())
			}
			fmt.Fprintf(app.stdout, "%s removed %d done job(s)\n", SuccessStyle.Render("✓"), n)
			return nil
		},
	})

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the ledger whenever a pending index appears or changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watchLedger(cmd.Context(), app, opts)
		},
	}
	watchCmd.Flags().DurationVar(&opts.debounce, "debounce", 2*time.Second, "quiet period before a run starts")
	ledgerCmd.AddCommand(watchCmd)

	return ledgerCmd
}

func newLedgerManager(ctx context.Context, app *App, opts ledgerOptions) (*ledger.Manager, error) {
	s, err := ledgerSettings(ctx, app, opts)
	if err != nil {
		return nil, err
	}
	return ledger.New(s, ledger.WithLogger(app.Logger())), nil
}

func ledgerSettings(ctx context.Context, app *App, opts ledgerOptions) (ledger.Settings, error) {
	cfg, err := app.load(ctx)
	if err != nil {
		return ledger.Settings{}, err
	}
	target, err := ledger.ParseTarget(opts.target)
	if err != nil {
		return ledger.Settings{}, err
	}
	s := ledger.Settings{Root: opts.root, License: opts.license, Target: target, File: opts.file}
	if s.Root == "" {
		s.Root = cfg.Promote.TargetRoot
	}
	if s.License == "" {
		s.License = cfg.Promote.License
	}
	if s.Root == "" || s.License == "" {
		return s, errors.New("no repository area: pass --root and --license or set promote.target_root and promote.license")
	}
	return s, nil
}

func runLedger(ctx context.Context, app *App, m *ledger.Manager) error {
	res, err := m.Run(ctx)
	if res != nil {
		if rerr := app.render(report.Ledger(res.Jobs)); rerr != nil && err == nil {
			return rerr
		}
		app.Logger().Info("ledger run finished", "committed", len(res.Committed), "moved", res.Moved, "backups", len(res.Backups))
	}
	if err != nil {
		var conflict *ledger.DataConflictError
		if errors.As(err, &conflict) {
			return actionable(err, "commit job", conflict.Target,
				"The target holds a different file under the same name",
				"Resolve the conflict by hand, then run the ledger again")
		}
		return actionable(err, "run ledger", m.Store().Path(),
			"Run the ledger again to resume from the persisted state")
	}
	return nil
}

func watchLedger(ctx context.Context, app *App, opts ledgerOptions) error {
	s, err := ledgerSettings(ctx, app, opts)
	if err != nil {
		return err
	}
	m := ledger.New(s, ledger.WithLogger(app.Logger()))
	pending := filepath.Join(s.Root, s.License, "pending")
	if err := os.MkdirAll(pending, 0o755); err != nil {
		return err
	}

	logger := app.Logger()
	w, err := watch.New(watch.Config{
		Dir:        pending,
		Patterns:   []string{"**/" + ledger.IndexFile},
		Debounce:   opts.debounce,
		InitialRun: true,
		Logger:     logger,
		OnChange: func(ctx context.Context, changed []string) error {
			logger.Info("pending indexes changed", "count", len(changed))
			return runLedger(ctx, app, m)
		},
	})
	if err != nil {
		return err
	}
	logger.Info("watching", "dir", pending)
	return w.Run(ctx)
}
