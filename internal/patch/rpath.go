// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// rewriteRPaths sets the runpath of every ELF file below root to the
// $ORIGIN-relative location of root/target.
func (p *Patcher) rewriteRPaths(ctx context.Context, root, target string) error {
	libDir, err := within(root, target)
	if err != nil {
		return err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := isELF(path)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, file := range files {
		rpath, err := OriginRPath(filepath.Dir(file), libDir)
		if err != nil {
			return err
		}
		cmd := p.execCommand(ctx, p.patchelf, "--set-rpath", rpath, file)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s --set-rpath %s: %w: %s", p.patchelf, file, err, strings.TrimSpace(string(out)))
		}
	}
	p.logger.Debug("rewrote runpaths", "files", len(files), "target", target)
	return nil
}

// OriginRPath returns the runpath that makes libDir reachable from binaries
// in dir, e.g. "$ORIGIN/../lib".
func OriginRPath(dir, libDir string) (string, error) {
	rel, err := filepath.Rel(dir, libDir)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "$ORIGIN", nil
	}
	return "$ORIGIN/" + filepath.ToSlash(rel), nil
}

func isELF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }() // read-only file

	head := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, elfMagic), nil
}
