// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Target: {
	repo_path: string & =~"^[^/].*"
	rta_keys: [...string] | *[]
}
#Doc: {
	targets: [...#Target]
}
`

type testDoc struct {
	Targets []struct {
		RepoPath string   `json:"repo_path"`
		RTAKeys  []string `json:"rta_keys"`
	} `json:"targets"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	data := []byte(`targets: [{repo_path: "linux_x64/sdk", rta_keys: ["a"]}, {repo_path: "windows_x64/sdk"}]`)
	res, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithFilename("jobs.cue"))
	if err != nil {
		t.Fatalf("ParseAndDecode() error = %v", err)
	}
	if len(res.Value.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(res.Value.Targets))
	}
	if res.Value.Targets[0].RTAKeys[0] != "a" {
		t.Errorf("RTAKeys = %v", res.Value.Targets[0].RTAKeys)
	}
	if len(res.Value.Targets[1].RTAKeys) != 0 {
		t.Errorf("default RTAKeys = %v, want empty", res.Value.Targets[1].RTAKeys)
	}
}

func TestParseAndDecode_ValidationErrorHasPath(t *testing.T) {
	t.Parallel()

	data := []byte(`targets: [{repo_path: "/abs"}]`)
	_, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithFilename("jobs.cue"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "jobs.cue") || !strings.Contains(err.Error(), "targets[0].repo_path") {
		t.Errorf("error = %q, want filename and field path", err)
	}
}

func TestParseAndDecode_SizeLimit(t *testing.T) {
	t.Parallel()

	data := []byte(`targets: []`)
	_, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithMaxFileSize(4))
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("error = %v, want size error", err)
	}
}

func TestParseAndDecode_MissingDefinition(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[testDoc]([]byte(testSchema), []byte(`targets: []`), "#Nope")
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("error = %v, want internal schema error", err)
	}
}

func TestFormatError_NonCUE(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	base := errors.New("boom")
	err := FormatError(base, "config.cue")
	if !errors.Is(err, base) || !strings.HasPrefix(err.Error(), "config.cue: ") {
		t.Errorf("FormatError() = %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"build"}, "build"},
		{[]string{"remote", "port"}, "remote.port"},
		{[]string{"jobs", "0", "rta_keys", "2"}, "jobs[0].rta_keys[2]"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
