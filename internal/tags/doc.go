// SPDX-License-Identifier: MPL-2.0

// Package tags replaces %TAG% placeholders in installer configuration and
// component metadata files.
package tags
