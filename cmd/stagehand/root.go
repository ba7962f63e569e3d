// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invowk/stagehand/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand creates the stagehand command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Build installer packages and promote update repositories",
		Long: TitleStyle.Render("stagehand") + SubtitleStyle.Render(" - build and promote update repositories") + `

stagehand builds component packages from TOML descriptors, assembles
installers and update repositories, and promotes repository trees through
the pending, staging and production areas of a repository host.

` + SubtitleStyle.Render("Examples:") + `
  stagehand build --descriptor release/sdk.toml --repository
  stagehand promote --job-source jobs.cue --update-staging
  stagehand ledger run --root /srv/repos --license opensource
  stagehand config show`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $HOME/.config/stagehand/config.cue)")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newPromoteCommand(app),
		newSyncCommand(app),
		newLedgerCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the command tree and exits with the mapped exit code.
// This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err != nil {
		renderHints(app.stderr, err, app.verbose)
	}
	os.Exit(int(exitCode(err)))
}

// renderHints prints the suggestions and, in verbose mode, the error chain
// of an ActionableError. The message itself is printed by fang.
func renderHints(w io.Writer, err error, verbose bool) {
	ae, ok := issue.As(err)
	if !ok {
		return
	}
	if hints := ae.Hints(verbose); hints != "" {
		fmt.Fprintln(w, hintStyle.Render(hints))
	}
}

// actionable wraps err for display at the CLI boundary. Errors that are
// already actionable or carry an exit code pass through.
func actionable(err error, operation, resource string, suggestions ...string) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if _, ok := issue.As(err); ok || errors.As(err, &exitErr) {
		return err
	}
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(resource).
		WithSuggestion(suggestions...).
		Wrap(err).
		BuildError()
}
