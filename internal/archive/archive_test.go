// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/stagehand/internal/testutil"

	"github.com/ulikunitz/xz"
)

func TestHelperProcess(t *testing.T) { testutil.HelperProcess() }

type entry struct {
	name, body, link string
	dir              bool
	mode             int64
}

var sampleEntries = []entry{
	{name: "cmake-3.24.2/", dir: true},
	{name: "cmake-3.24.2/bin/cmake", body: "#!/bin/sh\n", mode: 0o755},
	{name: "cmake-3.24.2/doc/README", body: "docs"},
	{name: "cmake-3.24.2/lib/libfoo.so.1", body: "elf"},
	{name: "cmake-3.24.2/lib/libfoo.so", link: "libfoo.so.1"},
	{name: "top-level.txt", body: "dropped when stripping"},
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		switch {
		case e.dir:
			hdr.Typeflag, hdr.Mode = tar.TypeDir, 0o755
		case e.link != "":
			hdr.Typeflag, hdr.Linkname = tar.TypeSymlink, e.link
		default:
			hdr.Typeflag, hdr.Size = tar.TypeReg, int64(len(e.body))
			if e.mode != 0 {
				hdr.Mode = e.mode
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.body); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, name string, entries []entry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data bytes.Buffer

	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		zw := gzip.NewWriter(&data)
		_, _ = zw.Write(tarBytes(t, entries))
		testutil.MustClose(t, zw)
	case strings.HasSuffix(name, ".tar.xz"):
		xw, err := xz.NewWriter(&data)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = xw.Write(tarBytes(t, entries))
		testutil.MustClose(t, xw)
	case strings.HasSuffix(name, ".tar"):
		data.Write(tarBytes(t, entries))
	case strings.HasSuffix(name, ".zip"):
		zw := zip.NewWriter(&data)
		for _, e := range entries {
			if e.link != "" {
				continue
			}
			w, err := zw.Create(e.name)
			if err != nil {
				t.Fatal(err)
			}
			_, _ = io.WriteString(w, e.body)
		}
		testutil.MustClose(t, zw)
	default:
		t.Fatalf("unsupported test archive %s", name)
	}
	testutil.MustWriteFile(t, path, data.String())
	return path
}

func TestExtract_Formats(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"a.tar", "a.tar.gz", "a.tar.xz", "a.zip"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			src := writeArchive(t, dir, name, sampleEntries)
			dest := filepath.Join(dir, "out")

			if err := NewExtractor().Extract(context.Background(), src, dest, 1); err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			got := testutil.ReadTree(t, dest)
			if got["bin/cmake"] != "#!/bin/sh\n" || got["doc/README"] != "docs" {
				t.Errorf("tree = %v", got)
			}
			if _, ok := got["top-level.txt"]; ok {
				t.Error("entries with too few components must be skipped")
			}
			if strings.HasPrefix(name, "a.tar") {
				link, err := os.Readlink(filepath.Join(dest, "lib", "libfoo.so"))
				if err != nil || link != "libfoo.so.1" {
					t.Errorf("symlink = %q, %v", link, err)
				}
				info, err := os.Stat(filepath.Join(dest, "bin", "cmake"))
				if err != nil || info.Mode().Perm()&0o100 == 0 {
					t.Errorf("bin/cmake should keep its executable bit: %v", info.Mode())
				}
			}
		})
	}
}

func TestExtract_NoStrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeArchive(t, dir, "a.tar.gz", sampleEntries)
	dest := filepath.Join(dir, "out")
	if err := NewExtractor().Extract(context.Background(), src, dest, 0); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	got := testutil.ReadTree(t, dest)
	if got["top-level.txt"] == "" || got["cmake-3.24.2/bin/cmake"] == "" {
		t.Errorf("tree = %v", got)
	}
}

func TestExtract_RejectsEscapingSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeArchive(t, dir, "evil.tar", []entry{{name: "x/passwd", link: "../../../../etc/passwd"}})
	err := NewExtractor().Extract(context.Background(), src, filepath.Join(dir, "out"), 0)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
	}
}

func TestExtract_Unsupported(t *testing.T) {
	t.Parallel()

	if err := NewExtractor().Extract(context.Background(), "readme.txt", t.TempDir(), 0); err == nil {
		t.Fatal("expected error for non-archive")
	}
}

func TestExtract_SevenZip(t *testing.T) {
	t.Parallel()

	rec := &testutil.CommandRecorder{Handler: func(inv testutil.Invocation) testutil.Response {
		var outDir string
		for _, a := range inv.Args {
			if v, ok := strings.CutPrefix(a, "-o"); ok {
				outDir = v
			}
		}
		testutil.WriteTree(t, outDir, map[string]string{
			"qtbase/bin/qmake":     "qmake",
			"qtbase/lib/libQt6.so": "lib",
		})
		return testutil.Response{}
	}}

	dir := t.TempDir()
	dest := filepath.Join(dir, "install")
	testutil.WriteTree(t, dest, map[string]string{"lib/existing.so": "kept"})

	e := NewExtractor(WithSevenZip("/opt/7z"), WithExecCommand(rec.CommandFunc()))
	if err := e.Extract(context.Background(), filepath.Join(dir, "qtbase.7z"), dest, 1); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	got := testutil.ReadTree(t, dest)
	want := map[string]string{"bin/qmake": "qmake", "lib/libQt6.so": "lib", "lib/existing.so": "kept"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q (tree %v)", k, got[k], v, got)
		}
	}
	invs := rec.Find("/opt/7z")
	if len(invs) != 1 || invs[0].Args[0] != "x" {
		t.Errorf("invocations = %+v", rec.Invocations())
	}
	scratch, _ := filepath.Glob(filepath.Join(dir, ".7z-*"))
	if len(scratch) != 0 {
		t.Errorf("scratch directories left behind: %v", scratch)
	}
}

func TestExtract_SevenZipFailure(t *testing.T) {
	t.Parallel()

	rec := &testutil.CommandRecorder{Handler: func(testutil.Invocation) testutil.Response {
		return testutil.Response{ExitCode: 2, Stderr: "Can not open the file as archive"}
	}}
	e := NewExtractor(WithExecCommand(rec.CommandFunc()))
	err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "bad.7z"), t.TempDir(), 0)
	if err == nil || !strings.Contains(err.Error(), "Can not open") {
		t.Fatalf("Extract() error = %v", err)
	}
}

func TestStripComponents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		n     int
		want  string
		wantK bool
	}{
		{"a/b/c", 0, "a/b/c", true},
		{"a/b/c", 1, "b/c", true},
		{"./a/b", 1, "b", true},
		{"a/", 1, "", false},
		{"a", 1, "", false},
		{"../../etc/passwd", 0, "etc/passwd", true},
	}
	for _, tt := range tests {
		got, ok := stripComponents(tt.name, tt.n)
		if got != tt.want || ok != tt.wantK {
			t.Errorf("stripComponents(%q, %d) = %q, %v; want %q, %v", tt.name, tt.n, got, ok, tt.want, tt.wantK)
		}
	}
}

func TestGenerator(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "data", "cmake.7z")

	ok := &testutil.CommandRecorder{Handler: func(inv testutil.Invocation) testutil.Response {
		testutil.MustWriteFile(t, inv.Args[0], "archive")
		return testutil.Response{Stdout: "compressing"}
	}}
	g := NewGenerator("archivegen", ok.CommandFunc(), nil)
	if err := g.Create(context.Background(), out, "7z", filepath.Join(dir, "staging")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	inv := ok.Find("archivegen")
	if len(inv) != 1 || inv[0].Args[0] != out || inv[0].Args[1] != "7z" || inv[0].Args[2] != filepath.Join(dir, "staging") {
		t.Errorf("invocation = %+v", inv)
	}

	failing := &testutil.CommandRecorder{Handler: func(testutil.Invocation) testutil.Response {
		return testutil.Response{ExitCode: 4, Stderr: "disk full"}
	}}
	err := NewGenerator("archivegen", failing.CommandFunc(), nil).Create(context.Background(), filepath.Join(dir, "x.7z"), "7z", dir)
	var ge *GenerateError
	if !errors.As(err, &ge) || ge.ExitCode != 4 || !strings.Contains(ge.Log, "disk full") {
		t.Fatalf("Create() error = %v, want GenerateError with exit code 4", err)
	}

	silent := &testutil.CommandRecorder{}
	err = NewGenerator("archivegen", silent.CommandFunc(), nil).Create(context.Background(), filepath.Join(dir, "never.7z"), "7z", dir)
	if !errors.Is(err, ErrGenerate) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Create() error = %v, want ErrGenerate wrapping a missing output", err)
	}
}
