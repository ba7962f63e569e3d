// SPDX-License-Identifier: MPL-2.0

// Package config loads stagehand configuration using Viper with CUE as the file format.
//
// Configuration is read from config.cue in the platform configuration directory
// ($XDG_CONFIG_HOME/stagehand on Linux, ~/Library/Application Support/stagehand on
// macOS, %APPDATA%\stagehand on Windows) or from an explicit path. The file is
// validated against the embedded schema (config_schema.cue) before being merged
// over the defaults; STAGEHAND_* environment variables override both
// (e.g. STAGEHAND_BUILD_WORKERS=4, STAGEHAND_REMOTE_HOST=repo.example.com).
//
// The resulting Config is a plain value. It is loaded once by the CLI and
// handed to the build, promote and ledger components by value.
package config
