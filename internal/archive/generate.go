// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrGenerate is the sentinel wrapped by GenerateError.
var ErrGenerate = errors.New("archive generation failed")

type (
	// Generator drives the external archive generator:
	//
	//	<tool> <output-archive> <format> <content-dir...>
	Generator struct {
		tool        string
		execCommand ExecCommandFunc
		logger      *log.Logger
	}

	// GenerateError reports a failed generator run: a non-zero exit or a
	// missing output file.
	GenerateError struct {
		Output   string
		ExitCode int
		Log      string
		Err      error
	}
)

func (e *GenerateError) Error() string {
	msg := fmt.Sprintf("generate %s: exit code %d", e.Output, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

// Unwrap exposes ErrGenerate and the underlying cause.
func (e *GenerateError) Unwrap() []error { return []error{ErrGenerate, e.Err} }

// NewGenerator creates a Generator for tool. A nil execCommand uses
// exec.CommandContext; a nil logger discards.
func NewGenerator(tool string, execCommand ExecCommandFunc, logger *log.Logger) *Generator {
	if execCommand == nil {
		execCommand = exec.CommandContext
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Generator{tool: tool, execCommand: execCommand, logger: logger}
}

// Args returns the generator command line for output, format and dirs.
func (g *Generator) Args(output, format string, dirs ...string) []string {
	return append([]string{output, format}, dirs...)
}

// Create runs the generator. It succeeds only when the tool exits 0 and
// output exists afterwards.
func (g *Generator) Create(ctx context.Context, output, format string, dirs ...string) error {
	cmd := g.execCommand(ctx, g.tool, g.Args(output, format, dirs...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	logText := strings.TrimSpace(buf.String())
	if logText != "" {
		g.logger.Debug("archive generator output", "output", output, "log", logText)
	}
	if runErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &GenerateError{Output: output, ExitCode: code, Log: logText, Err: runErr}
	}
	if _, err := os.Stat(output); err != nil {
		return &GenerateError{Output: output, Log: logText, Err: fmt.Errorf("output missing: %w", err)}
	}
	return nil
}
