// SPDX-License-Identifier: MPL-2.0

// Package fetch downloads payload sources and lists remote directories.
//
// Sources are http(s) URLs, file:// URLs or plain local paths. Directory
// listings over HTTP are read from the server's HTML index pages.
package fetch
