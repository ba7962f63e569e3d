// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

const helperEnv = "GO_WANT_HELPER_PROCESS"

type (
	// Invocation is one recorded external command.
	Invocation struct {
		Name string
		Args []string
	}

	// Response is what a fake command prints and returns.
	Response struct {
		ExitCode int
		Stdout   string
		Stderr   string
	}

	// CommandRecorder fakes external tools. Each invocation is recorded and
	// passed to Handler, which runs in the test process (so it may create the
	// files the real tool would) and decides the fake process's output.
	// The test package must define:
	//
	//	func TestHelperProcess(t *testing.T) { testutil.HelperProcess() }
	CommandRecorder struct {
		Handler func(Invocation) Response

		mu          sync.Mutex
		invocations []Invocation
	}
)

// CommandFunc returns a replacement for exec.CommandContext.
func (m *CommandRecorder) CommandFunc() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		inv := Invocation{Name: name, Args: append([]string(nil), args...)}
		m.mu.Lock()
		m.invocations = append(m.invocations, inv)
		handler := m.Handler
		m.mu.Unlock()

		var resp Response
		if handler != nil {
			resp = handler(inv)
		}

		cs := append([]string{"-test.run=^TestHelperProcess$", "--", name}, args...)
		//nolint:gosec // test-only helper process
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{
			helperEnv + "=1",
			"GO_HELPER_EXIT_CODE=" + strconv.Itoa(resp.ExitCode),
			"GO_HELPER_STDOUT=" + resp.Stdout,
			"GO_HELPER_STDERR=" + resp.Stderr,
		}
		return cmd
	}
}

// Invocations returns a copy of the recorded invocations.
func (m *CommandRecorder) Invocations() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Invocation(nil), m.invocations...)
}

// Find returns the recorded invocations of the named command.
func (m *CommandRecorder) Find(name string) []Invocation {
	var out []Invocation
	for _, inv := range m.Invocations() {
		if inv.Name == name {
			out = append(out, inv)
		}
	}
	return out
}

// HelperProcess is the body of a package's TestHelperProcess. It does
// nothing unless the process was started by a CommandRecorder.
func HelperProcess() {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("GO_HELPER_STDERR"))
	code, _ := strconv.Atoi(os.Getenv("GO_HELPER_EXIT_CODE"))
	os.Exit(code)
}
