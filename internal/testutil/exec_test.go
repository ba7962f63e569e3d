// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestHelperProcess(t *testing.T) { HelperProcess() }

func TestCommandRecorder(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "made-by-tool")
	rec := &CommandRecorder{Handler: func(inv Invocation) Response {
		if inv.Name == "fail" {
			return Response{ExitCode: 3, Stderr: "boom"}
		}
		MustWriteFile(t, out, "x")
		return Response{Stdout: "hello " + inv.Args[0]}
	}}
	run := rec.CommandFunc()

	got, err := run(context.Background(), "tool", "world").Output()
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("stdout = %q", got)
	}
	if MustReadFile(t, out) != "x" {
		t.Error("handler side effect missing")
	}

	err = run(context.Background(), "fail").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("Run() error = %v, want exit code 3", err)
	}

	if n := len(rec.Invocations()); n != 2 {
		t.Errorf("len(Invocations()) = %d, want 2", n)
	}
	if inv := rec.Find("tool"); len(inv) != 1 || inv[0].Args[0] != "world" {
		t.Errorf("Find(tool) = %+v", inv)
	}
}

func TestWriteReadTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := map[string]string{"a.txt": "a", "lib/b.so": "b"}
	WriteTree(t, root, files)
	got := ReadTree(t, root)
	if len(got) != 2 || got["lib/b.so"] != "b" {
		t.Errorf("ReadTree() = %v", got)
	}
	if empty := ReadTree(t, filepath.Join(root, "missing")); len(empty) != 0 {
		t.Errorf("ReadTree(missing) = %v", empty)
	}
}
