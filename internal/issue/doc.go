// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable, user-facing errors for the stagehand CLI.
//
// Library packages return typed errors; the CLI layer wraps the ones it shows
// to operators in an ActionableError that names the failed operation, the
// descriptor, repository path or host involved, and remediation hints.
package issue
