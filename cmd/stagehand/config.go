// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/invowk/stagehand/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `stagehand config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stagehand configuration",
		Long: `Manage stagehand configuration.

Configuration is stored in:
  - Linux: ~/.config/stagehand/config.cue
  - macOS: ~/Library/Application Support/stagehand/config.cue
  - Windows: %APPDATA%\stagehand\config.cue

Every key can be overridden from the environment with the STAGEHAND_ prefix,
for example STAGEHAND_REMOTE_HOST or STAGEHAND_BUILD_WORKERS.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := app.cfgFile
			if path == "" {
				var err error
				if path, err = config.FilePath(""); err != nil {
					return err
				}
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, created, err := config.CreateDefaultConfig("")
			if err != nil {
				return actionable(err, "create configuration", path)
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s %s already exists\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.load(ctx)
	if err != nil {
		return err
	}
	source := SubtitleStyle.Render("(using defaults)")
	if app.loaded.Path != "" {
		source = app.loaded.Path
	}
	fmt.Fprintf(app.stdout, "// %s: %s\n", KeyStyle.Render("config file"), source)
	fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
	return nil
}
