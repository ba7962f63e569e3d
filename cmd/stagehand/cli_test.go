// SPDX-License-Identifier: MPL-2.0

package cmd_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// binaryPath is the stagehand binary built once for the script tests.
var binaryPath string

func TestMain(m *testing.M) {
	projectRoot, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		panic("failed to resolve project root: " + err.Error())
	}
	binDir, err := os.MkdirTemp("", "stagehand-bin-")
	if err != nil {
		panic("failed to create bin directory: " + err.Error())
	}

	binaryName := "stagehand"
	if runtime.GOOS == "windows" {
		binaryName = "stagehand.exe"
	}
	binaryPath = filepath.Join(binDir, binaryName)

	build := exec.CommandContext(context.Background(), "go", "build", "-o", binaryPath, ".")
	build.Dir = projectRoot
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		panic("failed to build stagehand: " + err.Error())
	}

	code := m.Run()
	_ = os.RemoveAll(binDir)
	os.Exit(code)
}

// TestCLI runs the testscript scenarios in testdata.
func TestCLI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping CLI scripts in short mode")
	}
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			env.Setenv("PATH", filepath.Dir(binaryPath)+string(os.PathListSeparator)+env.Getenv("PATH"))
			env.Setenv("XDG_CONFIG_HOME", filepath.Join(env.WorkDir, ".config"))
			env.Setenv("NO_COLOR", "1")
			return nil
		},
		ContinueOnError: true,
	})
}
