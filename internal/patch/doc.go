// SPDX-License-Identifier: MPL-2.0

// Package patch applies the post-extraction operations declared on a payload:
// removing bundled documentation, fixing file modes, embedding the
// license-check settings, writing qt.conf, running custom scripts in an
// embedded POSIX shell and rewriting ELF runpaths with patchelf.
package patch
