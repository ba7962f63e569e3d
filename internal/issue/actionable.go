// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

type (
	// ActionableError is a user-facing error: the operation that failed, the
	// file, repository path or host it touched, and what to try next.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("parse descriptor").
	//		WithResource("release/sdk.toml").
	//		WithSuggestion("Check the nested include paths").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase, e.g. "promote repositories".
		Operation string
		// Resource is optional.
		Resource string
		// Suggestions are optional remediation hints.
		Suggestions []string
		// Cause is optional.
		Cause error
	}

	// ErrorContext builds an ActionableError step by step.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext returns an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// As reports whether err's chain holds an ActionableError and returns it.
func As(err error) (*ActionableError, bool) {
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Chain flattens err's unwrap chain into one message per link. Joined errors
// are listed through their combined message only.
func Chain(err error) []string {
	var links []string
	for ; err != nil; err = errors.Unwrap(err) {
		links = append(links, err.Error())
	}
	return links
}

// Error returns "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error { return e.Cause }

// Hints renders the suggestions as a bullet list. With verbose set the
// numbered cause chain follows. The result is empty when there is nothing
// to add to Error.
func (e *ActionableError) Hints(verbose bool) string {
	var b strings.Builder
	for _, s := range e.Suggestions {
		fmt.Fprintf(&b, "  • %s\n", s)
	}
	if verbose && e.Cause != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Error chain:\n")
		for i, link := range Chain(e.Cause) {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, link)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Format is Error followed by Hints.
func (e *ActionableError) Format(verbose bool) string {
	hints := e.Hints(verbose)
	if hints == "" {
		return e.Error()
	}
	return e.Error() + "\n\n" + hints
}

// WithOperation sets the operation.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

// WithResource sets the resource.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSuggestion appends hints; empty strings are skipped.
func (c *ErrorContext) WithSuggestion(hints ...string) *ErrorContext {
	for _, h := range hints {
		if h != "" {
			c.err.Suggestions = append(c.err.Suggestions, h)
		}
	}
	return c
}

// Wrap sets the cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the error, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	ae := c.err
	ae.Suggestions = slices.Clone(c.err.Suggestions)
	return &ae
}

// BuildError is Build behind the error interface, so a missing operation
// yields an untyped nil.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
