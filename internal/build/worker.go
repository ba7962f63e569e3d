// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/stagehand/internal/patch"
	"github.com/invowk/stagehand/internal/payload"
	"github.com/invowk/stagehand/pkg/component"
)

// payloadJob is one unit of work for the pool.
type payloadJob struct {
	component *component.Component
	payload   component.Payload
	// index keeps the private directories of payloads sharing an archive
	// name apart.
	index int
}

// dataDir is where a component's final archives are written.
func dataDir(packages, id string) string {
	return filepath.Join(packages, id, "data")
}

// runPayload fetches, patches and repacks one payload. Download, extraction
// and patch failures return a PayloadError; repack failures a BuildError.
// The private download and staging directories are always removed.
func (b *Builder) runPayload(ctx context.Context, runDir, packages, license string, job payloadJob) error {
	c, p := job.component, job.payload
	logger := b.logger.With("component", c.ID, "archive", p.ArchiveName)

	fail := func(stage Stage, err error) error {
		return &PayloadError{Component: c.ID, Archive: p.ArchiveName, Stage: stage, Err: err}
	}

	sources, err := payload.Resolve(ctx, b.fetcher, p)
	if err != nil {
		return fail(StageResolve, err)
	}
	if len(sources) == 0 {
		logger.Debug("payload carries no data")
		return nil
	}

	key := fmt.Sprintf("%s-%d", c.ID, job.index)
	tmpDir := filepath.Join(runDir, "download", key)
	stagingRoot := filepath.Join(runDir, "staging", key)
	defer func() {
		_ = os.RemoveAll(tmpDir)
		_ = os.RemoveAll(stagingRoot)
	}()

	out := dataDir(packages, c.ID)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return &BuildError{Component: c.ID, Artifact: p.ArchiveName, Err: err}
	}

	if p.IsRaw() {
		logger.Debug("downloading raw artifact", "uri", sources[0].URI)
		if err := b.fetcher.Download(ctx, sources[0].URI, filepath.Join(out, p.ArchiveName)); err != nil {
			return fail(StageFetch, err)
		}
		return nil
	}

	installDir := filepath.Join(stagingRoot, filepath.FromSlash(strings.TrimLeft(c.TargetInstallBase, "/")))
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fail(StageFetch, err)
	}

	for _, src := range sources {
		local := filepath.Join(tmpDir, filepath.FromSlash(src.RelPath))
		logger.Debug("downloading", "uri", src.URI)
		if err := b.fetcher.Download(ctx, src.URI, local); err != nil {
			return fail(StageFetch, err)
		}
		if src.Extract {
			if err := b.extractor.Extract(ctx, local, installDir, p.StripDirs); err != nil {
				return fail(StageExtract, err)
			}
			if err := os.Remove(local); err != nil {
				return fail(StageExtract, err)
			}
			continue
		}
		dest := filepath.Join(installDir, filepath.FromSlash(src.RelPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fail(StageFetch, err)
		}
		if err := os.Rename(local, dest); err != nil {
			return fail(StageFetch, err)
		}
	}

	target := patch.Target{InstallDir: installDir, Component: c.ID, Version: c.Version, License: license}
	if err := b.patcher.Apply(ctx, target, p.Operations()); err != nil {
		return fail(StagePatch, err)
	}

	dirs, err := topLevel(stagingRoot)
	if err != nil {
		return &BuildError{Component: c.ID, Artifact: p.ArchiveName, Err: err}
	}
	output := filepath.Join(out, p.ArchiveName)
	if err := b.repacker.Create(ctx, output, component.ArchiveFormat(p.ArchiveName), dirs...); err != nil {
		return &BuildError{Component: c.ID, Artifact: p.ArchiveName, Err: err}
	}
	logger.Info("payload packed", "output", output)
	return nil
}

// topLevel lists the entries directly below dir.
func topLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	if len(out) == 0 {
		return nil, errors.New("payload produced no content")
	}
	return out, nil
}

// lookupSHA1 returns the provenance hash of c: the static value or the
// first field of the text at its sha1 URI.
func (b *Builder) lookupSHA1(ctx context.Context, c *component.Component) (string, error) {
	if c.StaticSHA1 != "" || c.SHA1URI == "" {
		return c.StaticSHA1, nil
	}
	text, err := b.fetcher.ReadText(ctx, c.SHA1URI)
	if err != nil {
		return "", &PayloadError{Component: c.ID, Archive: c.SHA1URI, Stage: StageLookup, Err: err}
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", &PayloadError{Component: c.ID, Archive: c.SHA1URI, Stage: StageLookup, Err: errors.New("empty hash file")}
	}
	return fields[0], nil
}
