// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/invowk/stagehand/internal/config"
	"github.com/invowk/stagehand/internal/remote"
	"github.com/invowk/stagehand/internal/report"

	"github.com/charmbracelet/log"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every command handler receives it and builds
	// the library components it needs from the loaded configuration.
	App struct {
		Config     config.Provider
		HTTPClient *http.Client
		// Channel replaces the configured remote channel stack when set.
		Channel remote.Channel
		stdout  io.Writer
		stderr  io.Writer

		verbose bool
		cfgFile string

		once   sync.Once
		loaded config.Loaded
		err    error
		logger *log.Logger
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		HTTPClient *http.Client
		Channel    remote.Channel
		Stdout     io.Writer
		Stderr     io.Writer
	}

	nopCloser struct{}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &App{
		Config:     deps.Config,
		HTTPClient: deps.HTTPClient,
		Channel:    deps.Channel,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
}

// load reads the configuration once per invocation and builds the logger.
// Verbose output is enabled by --verbose or ui.verbose.
func (a *App) load(ctx context.Context) (config.Config, error) {
	a.once.Do(func() {
		a.loaded, a.err = a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
		if a.err == nil && a.loaded.Config.UI.Verbose {
			a.verbose = true
		}
		a.logger = newLogger(a.stderr, a.verbose)
	})
	return a.loaded.Config, a.err
}

// Logger returns the CLI logger. It is usable before load.
func (a *App) Logger() *log.Logger {
	if a.logger == nil {
		return newLogger(a.stderr, a.verbose)
	}
	return a.logger
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "stagehand", ReportTimestamp: true})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// render writes a Markdown summary to stdout.
func (a *App) render(md string) error {
	return report.New(a.stdout).Render(md)
}

// remoteHost builds the channel stack for cfg and binds it to cfg.Host.
// The returned closer releases cached SSH connections.
func (a *App) remoteHost(cfg config.RemoteConfig) (remote.Host, io.Closer) {
	host := remote.Host{Name: cfg.Host, Timeouts: remote.TimeoutsFromConfig(cfg)}
	if a.Channel != nil {
		host.Channel = a.Channel
		return host, nopCloser{}
	}
	var closer io.Closer
	host.Channel, closer = remote.New(cfg, a.Logger())
	return host, closer
}

func (nopCloser) Close() error { return nil }
