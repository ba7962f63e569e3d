// SPDX-License-Identifier: MPL-2.0

// Package assemble drives the installer binary generator and the repository
// generator over a finished packages tree.
package assemble
