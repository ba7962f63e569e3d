// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultWorkers is the default size of the build worker pool.
	DefaultWorkers = 8
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig and collects one error per offending field.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		Build   BuildConfig   `json:"build" mapstructure:"build"`
		Remote  RemoteConfig  `json:"remote" mapstructure:"remote"`
		Promote PromoteConfig `json:"promote" mapstructure:"promote"`
		Mirror  MirrorConfig  `json:"mirror" mapstructure:"mirror"`
		UI      UIConfig      `json:"ui" mapstructure:"ui"`
	}

	// BuildConfig configures the component build pipeline.
	BuildConfig struct {
		// Workers bounds concurrent payload jobs; capped at the CPU count at runtime.
		Workers int `json:"workers" mapstructure:"workers"`
		// WorkDir holds per-run staging and download directories (default: OS temp dir).
		WorkDir string `json:"work_dir" mapstructure:"work_dir"`
		// Archivegen, Binarycreator, Repogen, Patchelf and Sevenzip name the external tools.
		Archivegen    string `json:"archivegen" mapstructure:"archivegen"`
		Binarycreator string `json:"binarycreator" mapstructure:"binarycreator"`
		Repogen       string `json:"repogen" mapstructure:"repogen"`
		Patchelf      string `json:"patchelf" mapstructure:"patchelf"`
		Sevenzip      string `json:"sevenzip" mapstructure:"sevenzip"`
		// FallbackDir is searched for nested descriptors not found next to the including file.
		FallbackDir string `json:"fallback_dir" mapstructure:"fallback_dir"`
		// License overrides the edition declared by the root descriptor.
		License string `json:"license" mapstructure:"license"`
		// Namespaces restricts components to these id prefixes; empty allows all.
		Namespaces []string `json:"namespaces" mapstructure:"namespaces"`
		// Substitutions are extra "%KEY%=value" tags.
		Substitutions []string `json:"substitutions" mapstructure:"substitutions"`
	}

	// RemoteConfig configures the remote execution channel.
	RemoteConfig struct {
		// Host is the repository host; empty or "localhost" uses the local channel.
		Host                  string        `json:"host" mapstructure:"host"`
		User                  string        `json:"user" mapstructure:"user"`
		Port                  int           `json:"port" mapstructure:"port"`
		IdentityFile          string        `json:"identity_file" mapstructure:"identity_file"`
		KnownHosts            string        `json:"known_hosts" mapstructure:"known_hosts"`
		InsecureIgnoreHostKey bool          `json:"insecure_ignore_host_key" mapstructure:"insecure_ignore_host_key"`
		ShortTimeout          time.Duration `json:"short_timeout" mapstructure:"short_timeout"`
		LongTimeout           time.Duration `json:"long_timeout" mapstructure:"long_timeout"`
		RetryAttempts         int           `json:"retry_attempts" mapstructure:"retry_attempts"`
		RetryBaseDelay        time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	}

	// PromoteConfig configures the promotion pipeline.
	PromoteConfig struct {
		License    string `json:"license" mapstructure:"license"`
		TargetRoot string `json:"target_root" mapstructure:"target_root"`
		// Repogen is the repository generator path on the remote host.
		Repogen string `json:"repogen" mapstructure:"repogen"`
		// RTAURL is the release-test-automation trigger endpoint; empty disables it.
		RTAURL      string `json:"rta_url" mapstructure:"rta_url"`
		Concurrency int    `json:"concurrency" mapstructure:"concurrency"`
	}

	// MirrorConfig configures mirror sync targets.
	MirrorConfig struct {
		S3     S3Mirror  `json:"s3" mapstructure:"s3"`
		Ext    ExtMirror `json:"ext" mapstructure:"ext"`
		LogDir string    `json:"log_dir" mapstructure:"log_dir"`
	}

	// S3Mirror describes an "aws s3 sync" destination.
	S3Mirror struct {
		Bucket    string   `json:"bucket" mapstructure:"bucket"`
		Prefix    string   `json:"prefix" mapstructure:"prefix"`
		ExtraArgs []string `json:"extra_args" mapstructure:"extra_args"`
	}

	// ExtMirror describes an rsync destination.
	ExtMirror struct {
		Host string `json:"host" mapstructure:"host"`
		Path string `json:"path" mapstructure:"path"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Build: BuildConfig{
			Workers:       DefaultWorkers,
			Archivegen:    "archivegen",
			Binarycreator: "binarycreator",
			Repogen:       "repogen",
			Patchelf:      "patchelf",
			Sevenzip:      "7z",
			Namespaces:    []string{},
			Substitutions: []string{},
		},
		Remote: RemoteConfig{
			Port:           22,
			ShortTimeout:   time.Minute,
			LongTimeout:    30 * time.Minute,
			RetryAttempts:  5,
			RetryBaseDelay: 2 * time.Second,
		},
		Promote: PromoteConfig{
			License:     "opensource",
			Repogen:     "repogen",
			Concurrency: 4,
		},
		Mirror: MirrorConfig{
			S3:     S3Mirror{ExtraArgs: []string{}},
			LogDir: "/tmp/stagehand-sync",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// IsValid returns whether the Config has valid fields. Most field constraints
// are enforced by the CUE schema; this re-checks the ones environment
// overrides can bypass.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if c.Build.Workers < 1 {
		errs = append(errs, fmt.Errorf("build.workers: must be >= 1, got %d", c.Build.Workers))
	}
	for i, ns := range c.Build.Namespaces {
		if strings.TrimSpace(ns) == "" {
			errs = append(errs, fmt.Errorf("build.namespaces[%d]: must not be blank", i))
		}
	}
	if c.Remote.Port < 1 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port: %d out of range", c.Remote.Port))
	}
	if c.Remote.ShortTimeout <= 0 || c.Remote.LongTimeout <= 0 {
		errs = append(errs, errors.New("remote: timeouts must be positive"))
	}
	if c.Remote.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("remote.retry_attempts: must be >= 1, got %d", c.Remote.RetryAttempts))
	}
	if c.Promote.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("promote.concurrency: must be >= 1, got %d", c.Promote.Concurrency))
	}
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}
