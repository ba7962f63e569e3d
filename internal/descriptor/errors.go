// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptor is the sentinel wrapped by DescriptorError.
	ErrDescriptor = errors.New("descriptor error")
	// ErrMissingDependency is the sentinel wrapped by MissingDependencyError.
	ErrMissingDependency = errors.New("missing dependency")
)

type (
	// DescriptorError reports a malformed, missing or inconsistent descriptor.
	// It is always fatal for the build.
	DescriptorError struct {
		Path string
		Err  error
	}

	// MissingDependencyError marks a component whose dependency is neither
	// part of the build nor filtered out of it.
	MissingDependencyError struct {
		Component  string
		Dependency string
	}
)

func (e *DescriptorError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("descriptor: %v", e.Err)
	}
	return fmt.Sprintf("descriptor %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrDescriptor and the underlying cause.
func (e *DescriptorError) Unwrap() []error { return []error{ErrDescriptor, e.Err} }

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("component %q depends on unknown component %q", e.Component, e.Dependency)
}

// Unwrap returns ErrMissingDependency.
func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }
