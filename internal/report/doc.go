// SPDX-License-Identifier: MPL-2.0

// Package report renders end-of-run summaries as Markdown, styled with
// glamour when the output is a terminal and plain otherwise.
package report
