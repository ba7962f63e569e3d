// SPDX-License-Identifier: MPL-2.0

package component

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/invowk/stagehand/pkg/platform"
)

const (
	// SourceSingle is one archive or data file at a fixed URI.
	SourceSingle SourceKind = iota + 1
	// SourcePattern is every entry under a base URI matching a glob.
	SourcePattern
	// SourceRaw is a file shipped as-is under the payload's archive name.
	SourceRaw
)

// ErrInvalidPayload is the sentinel wrapped by InvalidPayloadError.
var ErrInvalidPayload = errors.New("invalid payload")

// archiveSuffixes lists recognised archive suffixes, longest first.
var archiveSuffixes = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tgz", ".tar", ".zip", ".7z"}

type (
	// SourceKind classifies where a payload's content comes from.
	SourceKind int

	// Payload is one archive or data blob belonging to a component.
	Payload struct {
		// ArchiveName is the repackaged file name; its suffix selects the format.
		ArchiveName string
		URI         string
		BaseURI     string
		Pattern     string
		RawURI      string
		StripDirs   int
		Patches     []PatchOperation
		// RPathTarget, relative to the install base, adds an implicit rpath patch.
		RPathTarget string
	}

	// InvalidPayloadError reports a payload that violates its source rules.
	InvalidPayloadError struct {
		ArchiveName string
		Reason      string
	}
)

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("payload %q: %s", e.ArchiveName, e.Reason)
}

// Unwrap returns ErrInvalidPayload.
func (e *InvalidPayloadError) Unwrap() error { return ErrInvalidPayload }

// Kind returns the payload source kind, or 0 if none or several are set.
func (p Payload) Kind() SourceKind {
	var kind SourceKind
	n := 0
	if p.URI != "" {
		kind, n = SourceSingle, n+1
	}
	if p.BaseURI != "" || p.Pattern != "" {
		kind, n = SourcePattern, n+1
	}
	if p.RawURI != "" {
		kind, n = SourceRaw, n+1
	}
	if n != 1 {
		return 0
	}
	return kind
}

// IsRaw reports whether the payload is shipped without extraction or repacking.
func (p Payload) IsRaw() bool { return p.Kind() == SourceRaw }

// Operations returns the declared patches followed by the implicit rpath
// rewrite when an rpath target is set.
func (p Payload) Operations() []PatchOperation {
	ops := append([]PatchOperation(nil), p.Patches...)
	if p.RPathTarget != "" {
		ops = append(ops, PatchOperation{Kind: PatchRPath, Arg: p.RPathTarget})
	}
	return ops
}

// Validate checks the payload source rules.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.ArchiveName) == "" {
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "archive name is required"}
	}
	if strings.ContainsAny(p.ArchiveName, `/\`) {
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "archive name must be a plain file name"}
	}
	if err := platform.CheckPortableName(p.ArchiveName); err != nil {
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: err.Error()}
	}
	if p.StripDirs < 0 {
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "strip_dirs must not be negative"}
	}

	switch p.Kind() {
	case SourceSingle:
	case SourcePattern:
		if p.BaseURI == "" || p.Pattern == "" {
			return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "base_uri and pattern must be set together"}
		}
	case SourceRaw:
		if p.StripDirs != 0 || len(p.Patches) > 0 || p.RPathTarget != "" {
			return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "raw artifacts cannot be stripped or patched"}
		}
		return nil
	default:
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "exactly one of uri, base_uri+pattern or raw_uri is required"}
	}

	if ArchiveFormat(p.ArchiveName) == "" {
		return &InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "unsupported archive suffix"}
	}
	return nil
}

// ArchiveFormat returns the archive format of a file name ("7z", "zip",
// "tar", "tar.gz", "tar.xz", "tar.bz2"), or "" when it is not an archive.
func ArchiveFormat(name string) string {
	lower := strings.ToLower(path.Base(name))
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			if suffix == ".tgz" {
				return "tar.gz"
			}
			return strings.TrimPrefix(suffix, ".")
		}
	}
	return ""
}
