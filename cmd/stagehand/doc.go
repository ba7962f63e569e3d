// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for stagehand.
//
// The root command wires configuration, logging and the remote channel
// stack, then delegates to the build, promote, sync, ledger and config
// subcommands. Handlers return errors; Execute maps them to exit codes.
package cmd
