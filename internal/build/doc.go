// SPDX-License-Identifier: MPL-2.0

// Package build turns parsed components into a packages tree: every payload
// is resolved, fetched, patched and repacked on a bounded worker pool, then
// metadata is generated, tags are substituted and the installer and
// repository generators are run.
//
// Failures that belong to one component are collected on the component and
// reported; they fail the run only in strict mode or when no valid component
// is left. Archive generator failures abort the run unless broken components
// are allowed.
package build
