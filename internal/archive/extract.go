// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/invowk/stagehand/pkg/component"

	"github.com/charmbracelet/log"
	"github.com/ulikunitz/xz"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Extractor unpacks archives.
	Extractor struct {
		sevenZip    string
		execCommand ExecCommandFunc
		logger      *log.Logger
	}

	// ExtractorOption configures an Extractor.
	ExtractorOption func(*Extractor)
)

// WithSevenZip sets the 7z executable.
func WithSevenZip(path string) ExtractorOption {
	return func(e *Extractor) { e.sevenZip = path }
}

// WithExecCommand overrides command creation, for tests.
func WithExecCommand(fn ExecCommandFunc) ExtractorOption {
	return func(e *Extractor) { e.execCommand = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		sevenZip:    "7z",
		execCommand: exec.CommandContext,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract unpacks src into dest, dropping the first strip path components
// of every entry. Entries with no components left are skipped.
func (e *Extractor) Extract(ctx context.Context, src, dest string, strip int) error {
	format := component.ArchiveFormat(src)
	if format == "" {
		return fmt.Errorf("%s: not a supported archive", src)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	e.logger.Debug("extracting", "archive", filepath.Base(src), "format", format, "strip", strip)

	switch format {
	case "zip":
		return extractZip(src, dest, strip)
	case "7z":
		return e.extract7z(ctx, src, dest, strip)
	default:
		return extractTar(ctx, src, dest, format, strip)
	}
}

func extractTar(ctx context.Context, src, dest, format string, strip int) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only file

	var r io.Reader = f
	switch format {
	case "tar.gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case "tar.xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		r = xr
	case "tar.bz2":
		r = bzip2.NewReader(f)
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}

		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			linkName, ok := stripComponents(hdr.Linkname, strip)
			if !ok {
				return fmt.Errorf("%w: hard link %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			old, err := safeJoin(dest, linkName)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(old, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(src, dest string, strip int) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer func() { _ = zr.Close() }() // read-only archive

	for _, zf := range zr.File {
		name, ok := stripComponents(zf.Name, strip)
		if !ok {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			_ = rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(dest, target, string(link)); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeFile(target, rc, perm)
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// extract7z unpacks into a sibling scratch directory with the 7z tool and
// then moves the stripped entries into dest.
func (e *Extractor) extract7z(ctx context.Context, src, dest string, strip int) error {
	scratch, err := os.MkdirTemp(filepath.Dir(filepath.Clean(dest)), ".7z-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	cmd := e.execCommand(ctx, e.sevenZip, "x", "-y", "-o"+scratch, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s x %s: %w\n%s", e.sevenZip, filepath.Base(src), err, strings.TrimSpace(string(out)))
	}
	return moveStripped(scratch, dest, strip)
}

// moveStripped renames the entries found strip levels below src into dest.
func moveStripped(src, dest string, strip int) error {
	level := []string{src}
	for range strip {
		var next []string
		for _, dir := range level {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, ent := range entries {
				if ent.IsDir() {
					next = append(next, filepath.Join(dir, ent.Name()))
				}
			}
		}
		level = next
	}

	for _, dir := range level {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			if err := mergeMove(filepath.Join(dir, ent.Name()), filepath.Join(dest, ent.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeMove moves src to dst, merging directories that already exist.
func mergeMove(src, dst string) error {
	info, err := os.Lstat(dst)
	if errors.Is(err, os.ErrNotExist) {
		return os.Rename(src, dst)
	}
	if err != nil {
		return err
	}
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() || !srcInfo.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return os.Rename(src, dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if err := mergeMove(filepath.Join(src, ent.Name()), filepath.Join(dst, ent.Name())); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

// stripComponents drops the first n slash-separated components of name.
func stripComponents(name string, n int) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
	if name == "" {
		return "", false
	}
	parts := strings.Split(name, "/")
	if len(parts) <= n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

func safeJoin(base, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(base, clean), nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// writeSymlink creates target -> link, refusing links that resolve outside root.
func writeSymlink(root, target, link string) error {
	resolved := link
	if !filepath.IsAbs(link) {
		resolved = filepath.Join(filepath.Dir(target), link)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(link) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, link)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	_ = os.Remove(target)
	return os.Symlink(link, target)
}
