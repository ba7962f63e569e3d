// SPDX-License-Identifier: MPL-2.0

package component

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// PatchDeleteDocDirectory removes the doc/ tree of a payload.
	PatchDeleteDocDirectory PatchKind = "delete_doc_directory"
	// PatchSetExecutable sets the executable bit on one file.
	PatchSetExecutable PatchKind = "set_executable"
	// PatchSetLicheck embeds the license-check configuration.
	PatchSetLicheck PatchKind = "set_licheck"
	// PatchQt writes bin/qt.conf so the installed tree is relocatable.
	PatchQt PatchKind = "patch_qt"
	// PatchRunScript runs a custom shell script inside the payload tree.
	PatchRunScript PatchKind = "run_script"
	// PatchRPath rewrites ELF runpaths. It is never declared; it is implied
	// by a payload's rpath target and always runs last.
	PatchRPath PatchKind = "rpath"
)

// ErrInvalidPatchOperation is the sentinel wrapped by InvalidPatchOperationError.
var ErrInvalidPatchOperation = errors.New("invalid patch operation")

type (
	// PatchKind names a patch operation.
	PatchKind string

	// PatchOperation is one step of payload post-processing.
	PatchOperation struct {
		Kind PatchKind
		// Arg is the path argument of set_executable, set_licheck,
		// run_script and rpath; empty for the others.
		Arg string
	}

	// InvalidPatchOperationError reports an unparseable finalize token.
	InvalidPatchOperationError struct {
		Token  string
		Reason string
	}
)

func (e *InvalidPatchOperationError) Error() string {
	return fmt.Sprintf("invalid patch operation %q: %s", e.Token, e.Reason)
}

// Unwrap returns ErrInvalidPatchOperation.
func (e *InvalidPatchOperationError) Unwrap() error { return ErrInvalidPatchOperation }

func (op PatchOperation) String() string {
	if op.Arg == "" {
		return string(op.Kind)
	}
	return string(op.Kind) + "=" + op.Arg
}

// ParsePatchOperations parses a comma separated finalize list such as
// "delete_doc_directory,set_executable=bin/cmake". Empty tokens are ignored.
func ParsePatchOperations(s string) ([]PatchOperation, error) {
	var ops []PatchOperation
	for token := range strings.SplitSeq(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(token, "=")
		kind := PatchKind(strings.TrimSpace(name))
		arg = strings.TrimSpace(arg)

		switch kind {
		case PatchDeleteDocDirectory, PatchQt:
			if hasArg {
				return nil, &InvalidPatchOperationError{Token: token, Reason: "takes no argument"}
			}
		case PatchSetExecutable, PatchSetLicheck, PatchRunScript:
			if arg == "" {
				return nil, &InvalidPatchOperationError{Token: token, Reason: "requires a path argument"}
			}
		default:
			return nil, &InvalidPatchOperationError{Token: token, Reason: "unknown operation"}
		}
		ops = append(ops, PatchOperation{Kind: kind, Arg: arg})
	}
	return ops, nil
}
