// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"

	"github.com/invowk/stagehand/internal/assemble"
	"github.com/invowk/stagehand/internal/config"
)

const (
	// DryRunNone runs the full pipeline.
	DryRunNone DryRun = ""
	// DryRunPayload skips payload resolve, fetch, patch and repack.
	DryRunPayload DryRun = "payload"
	// DryRunConfigs additionally skips provenance hash lookups.
	DryRunConfigs DryRun = "configs"
)

// ErrInvalidDryRun is returned by ParseDryRun.
var ErrInvalidDryRun = errors.New("invalid dry-run mode")

type (
	// DryRun selects how much of the pipeline is skipped.
	DryRun string

	// Settings are the per-run build parameters.
	Settings struct {
		// Workers bounds concurrent payload jobs; capped at the CPU count.
		Workers int
		// WorkDir holds the per-run download and staging directories.
		WorkDir string
		// OutputDir receives the packages tree, installer config and artifacts.
		OutputDir string
		// Strict fails the run when any component error was collected.
		Strict bool
		// AllowBroken turns archive generator failures into component errors.
		AllowBroken bool
		DryRun      DryRun
		Installer   assemble.InstallerMode
		Repository  bool
		// Substitutions are extra "%KEY%=value" tags applied after the
		// descriptor's own.
		Substitutions []string

		Archivegen    string
		Binarycreator string
		Repogen       string
		Patchelf      string
		Sevenzip      string
	}
)

// ParseDryRun accepts "", "payload" and "configs".
func ParseDryRun(s string) (DryRun, error) {
	switch d := DryRun(s); d {
	case DryRunNone, DryRunPayload, DryRunConfigs:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q (want payload or configs)", ErrInvalidDryRun, s)
	}
}

// SkipsPayloads reports whether payload processing is skipped.
func (d DryRun) SkipsPayloads() bool { return d != DryRunNone }

// SkipsLookups reports whether provenance hash lookups are skipped.
func (d DryRun) SkipsLookups() bool { return d == DryRunConfigs }

// SettingsFromConfig seeds Settings from the build configuration.
func SettingsFromConfig(c config.BuildConfig) Settings {
	return Settings{
		Workers:       c.Workers,
		WorkDir:       c.WorkDir,
		Substitutions: c.Substitutions,
		Archivegen:    c.Archivegen,
		Binarycreator: c.Binarycreator,
		Repogen:       c.Repogen,
		Patchelf:      c.Patchelf,
		Sevenzip:      c.Sevenzip,
	}
}
