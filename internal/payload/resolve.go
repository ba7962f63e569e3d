// SPDX-License-Identifier: MPL-2.0

// Package payload turns payload declarations into concrete download sources.
package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/invowk/stagehand/internal/fetch"
	"github.com/invowk/stagehand/pkg/component"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoMatch is returned when a pattern payload matches no remote entry.
var ErrNoMatch = errors.New("pattern matched no files")

type (
	// Lister enumerates the files below a base URI.
	Lister interface {
		List(ctx context.Context, baseURI string) ([]fetch.Entry, error)
	}

	// Source is one file to download for a payload.
	Source struct {
		URI string
		// RelPath is where the file lands: below the install directory for
		// data files, or the archive name for raw artifacts.
		RelPath string
		// Extract marks an archive to unpack into the install directory.
		Extract bool
	}
)

// Resolve returns the sources of p. A single or raw URI without a file name
// (trailing slash) carries no data and yields no sources.
func Resolve(ctx context.Context, lister Lister, p component.Payload) ([]Source, error) {
	switch p.Kind() {
	case component.SourceSingle:
		name := fetch.FileName(p.URI)
		if name == "" {
			return nil, nil
		}
		return []Source{{URI: p.URI, RelPath: name, Extract: component.ArchiveFormat(name) != ""}}, nil

	case component.SourceRaw:
		if fetch.FileName(p.RawURI) == "" {
			return nil, nil
		}
		return []Source{{URI: p.RawURI, RelPath: p.ArchiveName}}, nil

	case component.SourcePattern:
		entries, err := lister.List(ctx, p.BaseURI)
		if err != nil {
			return nil, err
		}
		var sources []Source
		for _, e := range entries {
			ok, err := doublestar.Match(p.Pattern, e.RelPath)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", p.Pattern, err)
			}
			if ok {
				sources = append(sources, Source{URI: e.URI, RelPath: e.RelPath})
			}
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("%w: %s under %s", ErrNoMatch, p.Pattern, p.BaseURI)
		}
		return sources, nil

	default:
		return nil, &component.InvalidPayloadError{ArchiveName: p.ArchiveName, Reason: "no source"}
	}
}
