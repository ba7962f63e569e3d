// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/stagehand/internal/issue"
	"github.com/invowk/stagehand/pkg/cueutil"
	"github.com/invowk/stagehand/pkg/platform"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "stagehand"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "STAGEHAND"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the stagehand configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var base string

	switch runtime.GOOS {
	case platform.Windows:
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, AppName), nil
}

// FilePath returns the path config.cue would have inside dir, or inside
// ConfigDir when dir is empty.
func FilePath(dir string) (string, error) {
	dir, err := configDirWithOverride(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (Config, string, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	switch {
	case opts.ConfigFilePath != "":
		if !fileExists(opts.ConfigFilePath) {
			return Config{}, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'stagehand config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	default:
		cuePath, err := FilePath(opts.ConfigDirPath)
		if err != nil {
			return Config{}, "", err
		}
		if fileExists(cuePath) {
			resolvedPath = cuePath
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return Config{}, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return Config{}, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check " + EnvPrefix + "_* environment overrides").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("build.workers", d.Build.Workers)
	v.SetDefault("build.work_dir", d.Build.WorkDir)
	v.SetDefault("build.archivegen", d.Build.Archivegen)
	v.SetDefault("build.binarycreator", d.Build.Binarycreator)
	v.SetDefault("build.repogen", d.Build.Repogen)
	v.SetDefault("build.patchelf", d.Build.Patchelf)
	v.SetDefault("build.sevenzip", d.Build.Sevenzip)
	v.SetDefault("build.fallback_dir", d.Build.FallbackDir)
	v.SetDefault("build.license", d.Build.License)
	v.SetDefault("build.namespaces", d.Build.Namespaces)
	v.SetDefault("build.substitutions", d.Build.Substitutions)

	v.SetDefault("remote.host", d.Remote.Host)
	v.SetDefault("remote.user", d.Remote.User)
	v.SetDefault("remote.port", d.Remote.Port)
	v.SetDefault("remote.identity_file", d.Remote.IdentityFile)
	v.SetDefault("remote.known_hosts", d.Remote.KnownHosts)
	v.SetDefault("remote.insecure_ignore_host_key", d.Remote.InsecureIgnoreHostKey)
	v.SetDefault("remote.short_timeout", d.Remote.ShortTimeout)
	v.SetDefault("remote.long_timeout", d.Remote.LongTimeout)
	v.SetDefault("remote.retry_attempts", d.Remote.RetryAttempts)
	v.SetDefault("remote.retry_base_delay", d.Remote.RetryBaseDelay)

	v.SetDefault("promote.license", d.Promote.License)
	v.SetDefault("promote.target_root", d.Promote.TargetRoot)
	v.SetDefault("promote.repogen", d.Promote.Repogen)
	v.SetDefault("promote.rta_url", d.Promote.RTAURL)
	v.SetDefault("promote.concurrency", d.Promote.Concurrency)

	v.SetDefault("mirror.s3.bucket", d.Mirror.S3.Bucket)
	v.SetDefault("mirror.s3.prefix", d.Mirror.S3.Prefix)
	v.SetDefault("mirror.s3.extra_args", d.Mirror.S3.ExtraArgs)
	v.SetDefault("mirror.ext.host", d.Mirror.Ext.Host)
	v.SetDefault("mirror.ext.path", d.Mirror.Ext.Path)
	v.SetDefault("mirror.log_dir", d.Mirror.LogDir)

	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates the file against #Config and merges it into v.
// All config fields are optional, so the document is decoded into a map and
// merged over the defaults instead of going through cueutil.ParseAndDecode.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config.cue into dir (ConfigDir when
// empty) unless one already exists. It returns the file path and whether
// the file was created.
func CreateDefaultConfig(dir string) (string, bool, error) {
	cfgPath, err := FilePath(dir)
	if err != nil {
		return "", false, err
	}
	if fileExists(cfgPath) {
		return cfgPath, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, true, nil
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg Config) string {
	var sb strings.Builder

	sb.WriteString("// stagehand configuration\n\n")

	sb.WriteString("build: {\n")
	fmt.Fprintf(&sb, "\tworkers: %d\n", cfg.Build.Workers)
	writeOptionalString(&sb, "\t", "work_dir", cfg.Build.WorkDir)
	fmt.Fprintf(&sb, "\tarchivegen: %q\n", cfg.Build.Archivegen)
	fmt.Fprintf(&sb, "\tbinarycreator: %q\n", cfg.Build.Binarycreator)
	fmt.Fprintf(&sb, "\trepogen: %q\n", cfg.Build.Repogen)
	fmt.Fprintf(&sb, "\tpatchelf: %q\n", cfg.Build.Patchelf)
	fmt.Fprintf(&sb, "\tsevenzip: %q\n", cfg.Build.Sevenzip)
	writeOptionalString(&sb, "\t", "fallback_dir", cfg.Build.FallbackDir)
	writeOptionalString(&sb, "\t", "license", cfg.Build.License)
	writeList(&sb, "\t", "namespaces", cfg.Build.Namespaces)
	writeList(&sb, "\t", "substitutions", cfg.Build.Substitutions)
	sb.WriteString("}\n")

	sb.WriteString("\nremote: {\n")
	writeOptionalString(&sb, "\t", "host", cfg.Remote.Host)
	writeOptionalString(&sb, "\t", "user", cfg.Remote.User)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.Remote.Port)
	writeOptionalString(&sb, "\t", "identity_file", cfg.Remote.IdentityFile)
	writeOptionalString(&sb, "\t", "known_hosts", cfg.Remote.KnownHosts)
	fmt.Fprintf(&sb, "\tinsecure_ignore_host_key: %v\n", cfg.Remote.InsecureIgnoreHostKey)
	fmt.Fprintf(&sb, "\tshort_timeout: %q\n", cfg.Remote.ShortTimeout.String())
	fmt.Fprintf(&sb, "\tlong_timeout: %q\n", cfg.Remote.LongTimeout.String())
	fmt.Fprintf(&sb, "\tretry_attempts: %d\n", cfg.Remote.RetryAttempts)
	fmt.Fprintf(&sb, "\tretry_base_delay: %q\n", cfg.Remote.RetryBaseDelay.String())
	sb.WriteString("}\n")

	sb.WriteString("\npromote: {\n")
	fmt.Fprintf(&sb, "\tlicense: %q\n", cfg.Promote.License)
	writeOptionalString(&sb, "\t", "target_root", cfg.Promote.TargetRoot)
	fmt.Fprintf(&sb, "\trepogen: %q\n", cfg.Promote.Repogen)
	writeOptionalString(&sb, "\t", "rta_url", cfg.Promote.RTAURL)
	fmt.Fprintf(&sb, "\tconcurrency: %d\n", cfg.Promote.Concurrency)
	sb.WriteString("}\n")

	sb.WriteString("\nmirror: {\n")
	sb.WriteString("\ts3: {\n")
	writeOptionalString(&sb, "\t\t", "bucket", cfg.Mirror.S3.Bucket)
	writeOptionalString(&sb, "\t\t", "prefix", cfg.Mirror.S3.Prefix)
	writeList(&sb, "\t\t", "extra_args", cfg.Mirror.S3.ExtraArgs)
	sb.WriteString("\t}\n")
	sb.WriteString("\text: {\n")
	writeOptionalString(&sb, "\t\t", "host", cfg.Mirror.Ext.Host)
	writeOptionalString(&sb, "\t\t", "path", cfg.Mirror.Ext.Path)
	sb.WriteString("\t}\n")
	fmt.Fprintf(&sb, "\tlog_dir: %q\n", cfg.Mirror.LogDir)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func writeOptionalString(sb *strings.Builder, indent, key, value string) {
	if value != "" {
		fmt.Fprintf(sb, "%s%s: %q\n", indent, key, value)
	}
}

func writeList(sb *strings.Builder, indent, key string, values []string) {
	if len(values) == 0 {
		return
	}
	quoted := make([]string, len(values))
	for i, val := range values {
		quoted[i] = fmt.Sprintf("%q", val)
	}
	fmt.Fprintf(sb, "%s%s: [%s]\n", indent, key, strings.Join(quoted, ", "))
}
