// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ScriptError reports a custom script that exited non-zero.
type ScriptError struct {
	Script   string
	ExitCode int
	Output   string
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("script %s exited with code %d", e.Script, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// runScript runs the script in the embedded shell with the install directory
// as working directory. The script sees the host environment plus
// INSTALL_DIR, COMPONENT_NAME, COMPONENT_VERSION and BUILD_LICENSE.
func (p *Patcher) runScript(ctx context.Context, t Target, script string) error {
	f, err := os.Open(script)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only file

	prog, err := syntax.NewParser().Parse(f, script)
	if err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}

	env := append(os.Environ(),
		"INSTALL_DIR="+t.InstallDir,
		"COMPONENT_NAME="+t.Component,
		"COMPONENT_VERSION="+t.Version,
		"BUILD_LICENSE="+t.License,
	)

	var out bytes.Buffer
	runner, err := interp.New(
		interp.Dir(t.InstallDir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &out, &out),
	)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	err = runner.Run(ctx, prog)
	output := strings.TrimSpace(out.String())
	if output != "" {
		p.logger.Debug("script output", "script", script, "output", output)
	}
	if err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return &ScriptError{Script: script, ExitCode: int(status), Output: output}
		}
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}
