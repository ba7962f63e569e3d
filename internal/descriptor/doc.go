// SPDX-License-Identifier: MPL-2.0

// Package descriptor parses TOML component descriptors into the component
// list of a build.
//
// A root descriptor carries the [installer] section and may include nested
// descriptor files. Each file declares components under [component."<id>"]
// with their payloads as [[component."<id>".payload]] tables. Parsing applies
// the namespace, exclude and edition filters and resolves dependencies by
// name lookup.
package descriptor
