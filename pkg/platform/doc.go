// SPDX-License-Identifier: MPL-2.0

// Package platform holds operating system names and the file name rules
// that package trees must follow to install on every supported platform.
package platform
