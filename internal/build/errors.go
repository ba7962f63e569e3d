// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
)

const (
	// StageResolve enumerates payload sources.
	StageResolve Stage = "resolve"
	// StageFetch downloads a source.
	StageFetch Stage = "fetch"
	// StageExtract unpacks a downloaded archive.
	StageExtract Stage = "extract"
	// StagePatch runs the payload's patch operations.
	StagePatch Stage = "patch"
	// StageLookup fetches a component's provenance hash.
	StageLookup Stage = "lookup"
)

var (
	// ErrPayload is the sentinel wrapped by PayloadError.
	ErrPayload = errors.New("payload failed")
	// ErrBuild is the sentinel wrapped by BuildError.
	ErrBuild = errors.New("build failed")
	// ErrNoValidComponents is returned when every component failed or was filtered out.
	ErrNoValidComponents = errors.New("no valid components")
	// ErrStrict is returned in strict mode when any component error was collected.
	ErrStrict = errors.New("component errors in strict mode")
)

type (
	// Stage names the step of payload processing that failed.
	Stage string

	// PayloadError is a component-scoped failure while preparing one payload.
	PayloadError struct {
		Component string
		Archive   string
		Stage     Stage
		Err       error
	}

	// BuildError is a failure producing an artifact: a repacked archive,
	// the metadata tree, an installer or a repository.
	BuildError struct {
		Component string
		Artifact  string
		Err       error
	}

	// StrictError lists the component errors that failed a strict run.
	StrictError struct {
		Count int
	}
)

func (e *PayloadError) Error() string {
	return fmt.Sprintf("component %s, payload %s: %s: %v", e.Component, e.Archive, e.Stage, e.Err)
}

// Unwrap exposes ErrPayload and the underlying cause.
func (e *PayloadError) Unwrap() []error { return []error{ErrPayload, e.Err} }

func (e *BuildError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("%s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("component %s, %s: %v", e.Component, e.Artifact, e.Err)
}

// Unwrap exposes ErrBuild and the underlying cause.
func (e *BuildError) Unwrap() []error { return []error{ErrBuild, e.Err} }

func (e *StrictError) Error() string {
	return fmt.Sprintf("%d component error(s) collected", e.Count)
}

// Unwrap returns ErrStrict.
func (e *StrictError) Unwrap() error { return ErrStrict }
