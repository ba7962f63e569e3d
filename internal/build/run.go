// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/invowk/stagehand/internal/assemble"
	"github.com/invowk/stagehand/internal/descriptor"
	"github.com/invowk/stagehand/internal/tags"
	"github.com/invowk/stagehand/pkg/component"

	"golang.org/x/sync/errgroup"
)

type (
	// ComponentStatus is the outcome of one component.
	ComponentStatus struct {
		ID      string
		Version string
		Valid   bool
		Errors  []error
	}

	// Result describes a finished run. It is returned alongside run-level
	// errors whenever components were processed, so a summary can still be
	// printed.
	Result struct {
		PackagesDir string
		ConfigDir   string
		Installer   string
		Repository  string
		DryRun      DryRun
		Components  []ComponentStatus
		Duration    time.Duration
	}
)

// ErrorCount returns the number of collected component errors.
func (r *Result) ErrorCount() int {
	n := 0
	for _, c := range r.Components {
		n += len(c.Errors)
	}
	return n
}

// ValidCount returns the number of components that built successfully.
func (r *Result) ValidCount() int {
	n := 0
	for _, c := range r.Components {
		if c.Valid {
			n++
		}
	}
	return n
}

// Run builds every component of res.
func (b *Builder) Run(ctx context.Context, res *descriptor.Result) (*Result, error) {
	start := b.now()
	s := b.settings
	out := s.OutputDir
	if out == "" {
		out = "out"
	}
	packages := filepath.Join(out, "packages")
	result := &Result{PackagesDir: packages, DryRun: s.DryRun}

	if err := os.RemoveAll(packages); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(packages, 0o755); err != nil {
		return nil, err
	}
	runDir, err := b.newRunDir()
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	for _, c := range res.Components {
		if err := c.Validate(); err != nil {
			c.AddError(err)
		}
	}

	b.logger.Info("building components", "components", len(res.Components), "workers", b.Workers(), "dry_run", string(s.DryRun))
	hashes, err := b.schedule(ctx, runDir, packages, res)
	if err != nil {
		return nil, err
	}

	valid := 0
	for _, c := range res.Components {
		if c.Valid() {
			valid++
			continue
		}
		if err := os.RemoveAll(filepath.Join(packages, c.ID)); err != nil {
			return nil, err
		}
	}
	defer func() {
		result.Components = statuses(res.Components)
		result.Duration = b.now().Sub(start)
	}()

	if valid == 0 {
		return result, ErrNoValidComponents
	}
	if s.Strict {
		if n := errorCount(res.Components); n > 0 {
			return result, &StrictError{Count: n}
		}
	}

	global, err := tags.Global(res.Installer.Name, res.Installer.Version, b.now(),
		slices.Concat(res.Installer.Substitutions, s.Substitutions))
	if err != nil {
		return result, &BuildError{Artifact: "tags", Err: err}
	}
	for _, c := range res.Components {
		if !c.Valid() {
			continue
		}
		meta, err := writeMetadata(packages, c)
		if err != nil {
			return result, &BuildError{Component: c.ID, Artifact: "meta", Err: err}
		}
		if _, err := global.Merge(tags.ForComponent(c, hashes[c.ID])).Apply(meta); err != nil {
			return result, &BuildError{Component: c.ID, Artifact: "meta", Err: err}
		}
	}

	var configFile string
	if tmpl := res.Installer.ConfigTemplate; tmpl != "" {
		result.ConfigDir = filepath.Join(out, "config")
		configFile = filepath.Join(result.ConfigDir, filepath.Base(tmpl))
		if err := os.RemoveAll(result.ConfigDir); err != nil {
			return result, err
		}
		if err := copyTree(filepath.Dir(tmpl), result.ConfigDir); err != nil {
			return result, &BuildError{Artifact: "config", Err: err}
		}
		if _, err := global.Apply(result.ConfigDir); err != nil {
			return result, &BuildError{Artifact: "config", Err: err}
		}
	}

	if s.DryRun.SkipsPayloads() {
		b.logger.Info("dry run, skipping artifact assembly", "mode", string(s.DryRun))
		return result, nil
	}

	if configFile != "" && s.Installer != assemble.ModeNone {
		output := filepath.Join(out, installerName(res.Installer))
		req := assemble.InstallerRequest{ConfigFile: configFile, Packages: packages, Mode: s.Installer, Output: output}
		if err := b.assembler.Installer(ctx, req); err != nil {
			return result, &BuildError{Artifact: "installer", Err: err}
		}
		result.Installer = output
	}
	if s.Repository {
		output := filepath.Join(out, "repository")
		if err := os.RemoveAll(output); err != nil {
			return result, err
		}
		if err := b.assembler.Repository(ctx, packages, output); err != nil {
			return result, &BuildError{Artifact: "repository", Err: err}
		}
		result.Repository = output
	}
	return result, nil
}

// schedule runs provenance lookups and payload jobs on the worker pool and
// returns the resolved hashes by component id.
func (b *Builder) schedule(ctx context.Context, runDir, packages string, res *descriptor.Result) (map[string]string, error) {
	var mu sync.Mutex
	hashes := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers())

	for _, c := range res.Components {
		if !c.Valid() {
			continue
		}
		if b.settings.DryRun.SkipsLookups() || c.SHA1URI == "" || c.StaticSHA1 != "" {
			mu.Lock()
			hashes[c.ID] = c.StaticSHA1
			mu.Unlock()
		} else {
			g.Go(func() error {
				sum, err := b.lookupSHA1(gctx, c)
				if err != nil {
					return b.collect(gctx, c, err)
				}
				mu.Lock()
				hashes[c.ID] = sum
				mu.Unlock()
				return nil
			})
		}
		if b.settings.DryRun.SkipsPayloads() {
			continue
		}
		for i, p := range c.Payloads {
			job := payloadJob{component: c, payload: p, index: i}
			g.Go(func() error {
				return b.collect(gctx, c, b.runPayload(gctx, runDir, packages, res.Installer.License, job))
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// collect records component-scoped failures on c and returns only the
// errors that abort the run.
func (b *Builder) collect(ctx context.Context, c *component.Component, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	var buildErr *BuildError
	if errors.As(err, &buildErr) && !b.settings.AllowBroken {
		return err
	}
	b.logger.Error("component failed", "component", c.ID, "err", err)
	c.AddError(err)
	return nil
}

func statuses(components []*component.Component) []ComponentStatus {
	out := make([]ComponentStatus, 0, len(components))
	for _, c := range components {
		out = append(out, ComponentStatus{ID: c.ID, Version: c.Version, Valid: c.Valid(), Errors: c.Errors()})
	}
	return out
}

func errorCount(components []*component.Component) int {
	n := 0
	for _, c := range components {
		n += len(c.Errors())
	}
	return n
}

func installerName(inst descriptor.Installer) string {
	if inst.Version == "" {
		return inst.Name + "-installer"
	}
	return inst.Name + "-" + inst.Version + "-installer"
}
