// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"time"
)

const (
	backupInfix         = "_backup_"
	officialBackupInfix = "_backup_official_"
	backupTimeFormat    = "20060102150405"
)

// MoveData is Phase A. It moves every file below the job's source directory
// except the index into the target directory, keeping relative paths, and
// prunes the emptied source directories. Subdirectories holding their own
// index belong to other jobs and are left alone. A file already present at
// the destination is replaced only when both digests match; otherwise a
// DataConflictError is returned and nothing further is moved. Running it
// again after completion is a no-op.
func MoveData(ctx context.Context, job Job) (moved int, err error) {
	src, dst := job.SourceDir(), job.TargetDir()
	var files []string
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == src {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != src && hasIndex(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if path == job.SourceIndexPath {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return moved, err
		}
		target := filepath.Join(dst, rel)
		if err := moveChecked(path, target); err != nil {
			return moved, err
		}
		moved++
	}
	pruneEmpty(src, false)
	return moved, nil
}

// SwapIndex is Phase B. An existing target index is hard-linked to
// <index>_backup_<ts>, the source index is renamed over the target in one
// step, and the backup is renamed to <index>_backup_official_<ts>, which is
// kept. The emptied source directory is pruned. When the source index is
// already gone and the target index exists the swap has happened and
// SwapIndex only prunes.
func SwapIndex(job Job, now time.Time) (backup string, err error) {
	srcExists := exists(job.SourceIndexPath)
	if !srcExists {
		if exists(job.TargetIndexPath) {
			pruneEmpty(job.SourceDir(), true)
			return "", nil
		}
		return "", fmt.Errorf("%s: neither source index %s nor target index %s exists",
			job.RepoPath, job.SourceIndexPath, job.TargetIndexPath)
	}
	if err := os.MkdirAll(job.TargetDir(), 0o755); err != nil {
		return "", err
	}

	ts := now.UTC().Format(backupTimeFormat)
	temp := ""
	if exists(job.TargetIndexPath) {
		temp = job.TargetIndexPath + backupInfix + ts
		if err := linkOrCopy(job.TargetIndexPath, temp); err != nil {
			return "", fmt.Errorf("back up %s: %w", job.TargetIndexPath, err)
		}
	}
	if err := move(job.SourceIndexPath, job.TargetIndexPath); err != nil {
		return "", fmt.Errorf("swap %s: %w", job.TargetIndexPath, err)
	}
	if temp != "" {
		backup = job.TargetIndexPath + officialBackupInfix + ts
		if err := os.Rename(temp, backup); err != nil {
			return "", err
		}
	}
	pruneEmpty(job.SourceDir(), true)
	return backup, nil
}

func moveChecked(src, dst string) error {
	if exists(dst) {
		sd, err := Digest(src)
		if err != nil {
			return err
		}
		dd, err := Digest(dst)
		if err != nil {
			return err
		}
		if sd != dd {
			return &DataConflictError{Source: src, Target: dst, SourceDigest: sd, TargetDigest: dd}
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return move(src, dst)
}

// move renames src to dst, copying when they are on different devices.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	tmp := dst + ".stagehand-tmp"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func linkOrCopy(src, dst string) error {
	_ = os.Remove(dst)
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only file
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Digest returns the hex SHA-256 of a file's content.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only file
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pruneEmpty removes empty directories below root, deepest first, and root
// itself when self is set and it ends up empty.
func pruneEmpty(root string, self bool) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && (self || path != root) {
			dirs = append(dirs, path)
		}
		return nil
	})
	slices.Reverse(dirs)
	for _, d := range dirs {
		// Remove fails on non-empty directories, which is what we want.
		_ = os.Remove(d)
	}
}

func hasIndex(dir string) bool {
	return exists(filepath.Join(dir, IndexFile))
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
