// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/invowk/stagehand/internal/archive"
	"github.com/invowk/stagehand/internal/assemble"
	"github.com/invowk/stagehand/internal/fetch"
	"github.com/invowk/stagehand/internal/patch"
	"github.com/invowk/stagehand/internal/payload"
	"github.com/invowk/stagehand/pkg/component"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Fetcher downloads payload sources and provenance hashes.
	Fetcher interface {
		payload.Lister
		Download(ctx context.Context, uri, dest string) error
		ReadText(ctx context.Context, uri string) (string, error)
	}

	// Extractor unpacks downloaded archives.
	Extractor interface {
		Extract(ctx context.Context, src, dest string, strip int) error
	}

	// Repacker compresses a staging tree into a payload archive.
	Repacker interface {
		Create(ctx context.Context, output, format string, dirs ...string) error
	}

	// Patcher applies payload patch operations.
	Patcher interface {
		Apply(ctx context.Context, t patch.Target, ops []component.PatchOperation) error
	}

	// Assembler runs the installer and repository generators.
	Assembler interface {
		Installer(ctx context.Context, req assemble.InstallerRequest) error
		Repository(ctx context.Context, packages, output string) error
	}

	// Builder runs component builds.
	Builder struct {
		settings    Settings
		fetcher     Fetcher
		extractor   Extractor
		repacker    Repacker
		patcher     Patcher
		assembler   Assembler
		execCommand ExecCommandFunc
		logger      *log.Logger
		now         func() time.Time
	}

	// Option configures a Builder.
	Option func(*Builder)
)

// WithFetcher replaces the HTTP/file fetcher.
func WithFetcher(f Fetcher) Option { return func(b *Builder) { b.fetcher = f } }

// WithExtractor replaces the archive extractor.
func WithExtractor(e Extractor) Option { return func(b *Builder) { b.extractor = e } }

// WithRepacker replaces the archive generator.
func WithRepacker(r Repacker) Option { return func(b *Builder) { b.repacker = r } }

// WithPatcher replaces the patcher.
func WithPatcher(p Patcher) Option { return func(b *Builder) { b.patcher = p } }

// WithAssembler replaces the installer and repository generators.
func WithAssembler(a Assembler) Option { return func(b *Builder) { b.assembler = a } }

// WithExecCommand sets how the default collaborators start external tools.
func WithExecCommand(fn ExecCommandFunc) Option { return func(b *Builder) { b.execCommand = fn } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock sets the time source used for creation dates.
func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

// New creates a Builder. Collaborators not supplied through options are
// built from the tool paths in s.
func New(s Settings, opts ...Option) *Builder {
	b := &Builder{
		settings:    s,
		execCommand: exec.CommandContext,
		logger:      log.New(io.Discard),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	logger := b.logger.WithPrefix("build")
	b.logger = logger

	if b.fetcher == nil {
		b.fetcher = fetch.NewClient(fetch.WithLogger(logger))
	}
	if b.extractor == nil {
		b.extractor = archive.NewExtractor(
			archive.WithSevenZip(orDefault(s.Sevenzip, "7z")),
			archive.WithExecCommand(archive.ExecCommandFunc(b.execCommand)),
			archive.WithLogger(logger),
		)
	}
	if b.repacker == nil {
		b.repacker = archive.NewGenerator(orDefault(s.Archivegen, "archivegen"), archive.ExecCommandFunc(b.execCommand), logger)
	}
	if b.patcher == nil {
		b.patcher = patch.New(
			patch.WithPatchelf(s.Patchelf),
			patch.WithExecCommand(patch.ExecCommandFunc(b.execCommand)),
			patch.WithLogger(logger),
			patch.WithClock(b.now),
		)
	}
	if b.assembler == nil {
		b.assembler = assemble.New(
			assemble.WithBinaryCreator(s.Binarycreator),
			assemble.WithRepogen(s.Repogen),
			assemble.WithExecCommand(assemble.ExecCommandFunc(b.execCommand)),
			assemble.WithLogger(logger),
		)
	}
	return b
}

// Workers returns the effective pool size: the configured worker count,
// at least one and at most the CPU count.
func (b *Builder) Workers() int {
	n := b.settings.Workers
	if n <= 0 {
		n = 8
	}
	return max(1, min(n, runtime.NumCPU()))
}

// newRunDir creates the private directory for one run's downloads and
// staging trees.
func (b *Builder) newRunDir() (string, error) {
	base := b.settings.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "stagehand-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
