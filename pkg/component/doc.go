// SPDX-License-Identifier: MPL-2.0

// Package component defines the installable units produced by a build:
// components, their payloads and the patch operations applied to payload
// content before it is repackaged.
package component
