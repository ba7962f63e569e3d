// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// It covers filesystem fixtures (MustMkdirAll, MustWriteFile, WriteTree,
// ReadTree) and fake external tools: CommandRecorder replaces an injected
// exec.CommandContext and answers each invocation from a handler, with the
// process side served by HelperProcess.
package testutil
