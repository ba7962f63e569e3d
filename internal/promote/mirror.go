// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/invowk/stagehand/internal/config"
	"github.com/invowk/stagehand/internal/remote"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// MirrorS3 syncs with "aws s3 sync".
	MirrorS3 MirrorTarget = "s3"
	// MirrorExt syncs with rsync to an external host.
	MirrorExt MirrorTarget = "ext"
)

type (
	// MirrorTarget selects a mirror sync destination.
	MirrorTarget string

	// SyncTask is a detached sync started on the repository host.
	SyncTask struct {
		RepoPath string
		Target   MirrorTarget
		RunID    string
		LogFile  string
		Argv     []string
	}

	// Mirror starts mirror syncs of production repositories.
	Mirror struct {
		host    remote.Host
		cfg     config.MirrorConfig
		root    string
		license string
		logger  *log.Logger
		newID   func() string
	}

	// MirrorOption configures a Mirror.
	MirrorOption func(*Mirror)
)

// ParseMirrorTarget validates a sync target name.
func ParseMirrorTarget(s string) (MirrorTarget, error) {
	switch t := MirrorTarget(strings.ToLower(strings.TrimSpace(s))); t {
	case MirrorS3, MirrorExt:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q (valid: s3, ext)", ErrInvalidMirrorTarget, s)
	}
}

// WithMirrorLogger sets the logger.
func WithMirrorLogger(logger *log.Logger) MirrorOption {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) MirrorOption {
	return func(m *Mirror) { m.newID = fn }
}

// NewMirror creates a Mirror syncing <root>/<license>/production on host.
func NewMirror(host remote.Host, cfg config.MirrorConfig, root, license string, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		host:    host,
		cfg:     cfg,
		root:    root,
		license: license,
		logger:  log.New(io.Discard),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithPrefix("mirror")
	if m.cfg.LogDir == "" {
		m.cfg.LogDir = "/tmp/stagehand-sync"
	}
	return m
}

// Command returns the sync command line for repoPath.
func (m *Mirror) Command(target MirrorTarget, repoPath string) ([]string, error) {
	if err := CheckRepoPath(repoPath); err != nil {
		return nil, err
	}
	src := path.Join(m.root, m.license, string(AreaProduction), repoPath) + "/"
	switch target {
	case MirrorS3:
		if m.cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("%w: s3 bucket is empty", ErrMirrorNotConfigured)
		}
		dest := "s3://" + path.Join(m.cfg.S3.Bucket, m.cfg.S3.Prefix, m.license, repoPath) + "/"
		return append([]string{"aws", "s3", "sync", src, dest}, m.cfg.S3.ExtraArgs...), nil
	case MirrorExt:
		if m.cfg.Ext.Host == "" || m.cfg.Ext.Path == "" {
			return nil, fmt.Errorf("%w: ext host and path are required", ErrMirrorNotConfigured)
		}
		dest := m.cfg.Ext.Host + ":" + path.Join(m.cfg.Ext.Path, m.license, repoPath) + "/"
		return []string{"rsync", "-a", "--delete", src, dest}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidMirrorTarget, target)
	}
}

// Sync starts one detached sync per repository path and returns without
// waiting for them. Each sync writes to its own log file named after its
// run id.
func (m *Mirror) Sync(ctx context.Context, target MirrorTarget, repoPaths []string) ([]SyncTask, error) {
	tasks := make([]SyncTask, 0, len(repoPaths))
	for _, rp := range repoPaths {
		argv, err := m.Command(target, rp)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, SyncTask{RepoPath: rp, Target: target, Argv: argv})
	}
	if len(tasks) == 0 {
		return tasks, nil
	}
	if err := m.host.MkdirAll(ctx, m.cfg.LogDir); err != nil {
		return nil, err
	}
	for i := range tasks {
		t := &tasks[i]
		t.RunID = m.newID()
		t.LogFile = path.Join(m.cfg.LogDir, fmt.Sprintf("%s-%s.log", t.Target, t.RunID))
		if err := m.host.SpawnDetached(ctx, t.Argv, t.LogFile); err != nil {
			return tasks[:i], fmt.Errorf("start %s sync of %s: %w", t.Target, t.RepoPath, err)
		}
		m.logger.Info("sync started", "target", t.Target, "repo", t.RepoPath, "log", t.LogFile)
	}
	return tasks, nil
}
