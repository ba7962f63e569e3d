// SPDX-License-Identifier: MPL-2.0

package component

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invowk/stagehand/pkg/platform"

	"golang.org/x/mod/semver"
)

// ErrInvalidComponent is the sentinel wrapped by InvalidComponentError.
var ErrInvalidComponent = errors.New("invalid component")

type (
	// Component is a named, installable unit. Configuration fields are
	// immutable once parsing finishes; only the error list changes afterwards.
	Component struct {
		ID                  string
		Version             string
		VersionTag          string
		TargetInstallBase   string
		IsRoot              bool
		IncludeFilter       string
		Payloads            []Payload
		MetadataTemplateDir string
		StaticSHA1          string
		SHA1URI             string
		Dependencies        []string
		DisplayName         string
		Description         string

		mu   sync.Mutex
		errs []error
	}

	// InvalidComponentError collects the field errors of one component.
	InvalidComponentError struct {
		ID          string
		FieldErrors []error
	}
)

func (e *InvalidComponentError) Error() string {
	return fmt.Sprintf("component %q: %s", e.ID, errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidComponent.
func (e *InvalidComponentError) Unwrap() error { return ErrInvalidComponent }

// Included reports whether the component takes part in a build for edition.
// Components without an include filter are always included.
func (c *Component) Included(edition string) bool {
	return c.IncludeFilter == "" || c.IncludeFilter == edition
}

// Validate checks the component definition and all of its payloads.
func (c *Component) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	} else if err := platform.CheckPortableName(c.ID); err != nil {
		errs = append(errs, fmt.Errorf("id: %w", err))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	} else if !ValidVersion(c.Version) {
		errs = append(errs, fmt.Errorf("version %q is not a semantic version", c.Version))
	}
	if c.StaticSHA1 != "" && c.SHA1URI != "" {
		errs = append(errs, errors.New("sha1 and sha1_uri are mutually exclusive"))
	}
	seen := make(map[string]bool, len(c.Payloads))
	for _, p := range c.Payloads {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[p.ArchiveName] {
			errs = append(errs, fmt.Errorf("duplicate archive name %q", p.ArchiveName))
		}
		seen[p.ArchiveName] = true
	}
	if len(errs) > 0 {
		return &InvalidComponentError{ID: c.ID, FieldErrors: errs}
	}
	return nil
}

// AddError records a component-scoped error. Safe for concurrent use.
func (c *Component) AddError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// Errors returns a copy of the recorded errors.
func (c *Component) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// Valid reports whether no errors were recorded.
func (c *Component) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs) == 0
}

// ValidVersion reports whether v is a semantic version, with or without
// the leading "v".
func ValidVersion(v string) bool {
	return semver.IsValid(canonical(v))
}

// CompareVersions compares two semantic versions like semver.Compare.
// Versions that do not parse sort before valid ones and compare lexically
// among themselves.
func CompareVersions(a, b string) int {
	ca, cb := canonical(a), canonical(b)
	va, vb := semver.IsValid(ca), semver.IsValid(cb)
	switch {
	case va && vb:
		return semver.Compare(ca, cb)
	case va:
		return 1
	case vb:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
