// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/stagehand/internal/dag"
	"github.com/invowk/stagehand/internal/tags"
	"github.com/invowk/stagehand/pkg/component"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

type (
	// Options controls descriptor parsing.
	Options struct {
		// Namespaces keeps only components whose id starts with one of the
		// prefixes. Empty keeps every component.
		Namespaces []string
		// License overrides the edition declared by the root descriptor.
		License string
		// FallbackDir is searched for nested descriptors that are not found
		// next to the including file.
		FallbackDir string
		Logger      *log.Logger
	}

	// Installer holds the root descriptor's [installer] settings.
	Installer struct {
		Name    string
		Version string
		// License is the edition used for include filters.
		License string
		// ConfigTemplate is the installer config file, resolved to an absolute path.
		ConfigTemplate string
		// Substitutions are "%KEY%=value" tags from every descriptor file.
		Substitutions []string
	}

	// Result is the outcome of parsing a descriptor tree.
	Result struct {
		Installer  Installer
		Components []*component.Component
		// Excludes is the global exclude list (doublestar patterns over ids).
		Excludes []string
		// Files lists every parsed descriptor in parse order.
		Files []string
	}

	parser struct {
		opts     Options
		logger   *log.Logger
		visiting map[string]bool
		done     map[string]bool
		origin   map[string]string
		result   Result
		decls    []*component.Component
	}
)

// Parse reads the descriptor at rootPath and every file it includes.
// Structural problems are returned as *DescriptorError. Components whose
// dependencies cannot be resolved are returned with a collected
// MissingDependencyError instead.
func Parse(ctx context.Context, rootPath string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &parser{
		opts:     opts,
		logger:   logger.WithPrefix("descriptor"),
		visiting: make(map[string]bool),
		done:     make(map[string]bool),
		origin:   make(map[string]string),
	}

	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, &DescriptorError{Path: rootPath, Err: err}
	}
	if err := p.parseFile(ctx, abs, true); err != nil {
		return nil, err
	}

	if opts.License != "" {
		p.result.Installer.License = opts.License
	}
	p.filter()
	return &p.result, nil
}

func (p *parser) parseFile(ctx context.Context, path string, root bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.visiting[path] {
		return &DescriptorError{Path: path, Err: errors.New("include cycle")}
	}
	if p.done[path] {
		p.logger.Debug("descriptor already parsed", "path", path)
		return nil
	}
	p.visiting[path] = true
	defer delete(p.visiting, path)

	f, err := readFile(path)
	if err != nil {
		return &DescriptorError{Path: path, Err: err}
	}
	p.result.Files = append(p.result.Files, path)
	p.logger.Debug("parsing descriptor", "path", path, "components", len(f.Component))

	dir := filepath.Dir(path)
	if inst := f.Installer; inst != nil {
		if err := p.applyInstaller(path, dir, inst, root); err != nil {
			return err
		}
	} else if root {
		return &DescriptorError{Path: path, Err: errors.New("root descriptor has no [installer] section")}
	}

	ids := make([]string, 0, len(f.Component))
	for id := range f.Component {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		c, err := buildComponent(id, dir, f.Component[id])
		if err != nil {
			return &DescriptorError{Path: path, Err: err}
		}
		if prev, dup := p.origin[id]; dup {
			return &DescriptorError{Path: path, Err: fmt.Errorf("component %q already declared in %s", id, prev)}
		}
		p.origin[id] = path
		p.decls = append(p.decls, c)
	}

	if f.Installer != nil {
		for _, inc := range f.Installer.Includes {
			resolved, err := p.resolveInclude(dir, inc)
			if err != nil {
				return &DescriptorError{Path: path, Err: err}
			}
			if err := p.parseFile(ctx, resolved, false); err != nil {
				return err
			}
		}
	}

	p.done[path] = true
	return nil
}

func (p *parser) applyInstaller(path, dir string, inst *installerSection, root bool) error {
	if !root {
		if inst.Name != "" || inst.Version != "" || inst.License != "" || inst.ConfigTemplate != "" {
			return &DescriptorError{Path: path, Err: errors.New("only the root descriptor may set installer name, version, license or config_template")}
		}
	} else {
		if inst.Name == "" {
			return &DescriptorError{Path: path, Err: errors.New("installer name is required")}
		}
		p.result.Installer.Name = inst.Name
		p.result.Installer.Version = inst.Version
		p.result.Installer.License = inst.License
		if inst.ConfigTemplate != "" {
			p.result.Installer.ConfigTemplate = resolveRelative(dir, inst.ConfigTemplate)
		}
	}

	for _, pattern := range inst.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return &DescriptorError{Path: path, Err: fmt.Errorf("invalid exclude pattern %q", pattern)}
		}
	}
	for _, sub := range inst.Substitutions {
		if _, _, err := tags.ParseSubstitution(sub); err != nil {
			return &DescriptorError{Path: path, Err: err}
		}
	}
	p.result.Excludes = append(p.result.Excludes, inst.Exclude...)
	p.result.Installer.Substitutions = append(p.result.Installer.Substitutions, inst.Substitutions...)
	return nil
}

// resolveInclude looks for inc next to the including file, then in the
// fallback directory.
func (p *parser) resolveInclude(dir, inc string) (string, error) {
	if filepath.IsAbs(inc) {
		if isFile(inc) {
			return filepath.Clean(inc), nil
		}
		return "", fmt.Errorf("included descriptor %s not found", inc)
	}

	candidates := []string{filepath.Join(dir, inc)}
	if p.opts.FallbackDir != "" {
		fallback, err := filepath.Abs(filepath.Join(p.opts.FallbackDir, inc))
		if err == nil {
			candidates = append(candidates, fallback)
		}
	}
	for _, c := range candidates {
		if isFile(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("included descriptor %q not found (searched %s)", inc, strings.Join(candidates, ", "))
}

func buildComponent(id, dir string, s componentSection) (*component.Component, error) {
	c := &component.Component{
		ID:                id,
		Version:           s.Version,
		VersionTag:        s.VersionTag,
		TargetInstallBase: s.TargetInstallBase,
		IsRoot:            s.RootComponent,
		IncludeFilter:     s.IncludeFilter,
		StaticSHA1:        s.SHA1,
		SHA1URI:           s.SHA1URI,
		Dependencies:      s.Dependencies,
		DisplayName:       s.DisplayName,
		Description:       s.Description,
	}
	if s.TemplateDir != "" {
		c.MetadataTemplateDir = resolveRelative(dir, s.TemplateDir)
	}

	for _, ps := range s.Payload {
		ops, err := component.ParsePatchOperations(ps.Finalize)
		if err != nil {
			return nil, fmt.Errorf("component %q: payload %q: %w", id, ps.ArchiveName, err)
		}
		for i, op := range ops {
			if op.Kind == component.PatchRunScript {
				ops[i].Arg = resolveRelative(dir, op.Arg)
			}
		}
		c.Payloads = append(c.Payloads, component.Payload{
			ArchiveName: ps.ArchiveName,
			URI:         ps.URI,
			BaseURI:     ps.BaseURI,
			Pattern:     ps.Pattern,
			RawURI:      ps.RawURI,
			StripDirs:   ps.StripDirs,
			Patches:     ops,
			RPathTarget: ps.RPathTarget,
		})
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// filter applies the namespace, exclude and edition filters in that order
// and then resolves dependencies against the surviving components.
// Components in a dependency cycle collect the cycle as an error.
func (p *parser) filter() {
	dropped := make(map[string]bool)
	for _, c := range p.decls {
		reason := ""
		switch {
		case !p.inNamespaces(c.ID):
			reason = "outside namespaces"
		case p.excluded(c.ID):
			reason = "excluded"
		case !c.Included(p.result.Installer.License):
			reason = "include filter " + c.IncludeFilter
		}
		if reason != "" {
			dropped[c.ID] = true
			p.logger.Debug("component dropped", "id", c.ID, "reason", reason)
			continue
		}
		p.result.Components = append(p.result.Components, c)
	}

	kept := make(map[string]bool, len(p.result.Components))
	for _, c := range p.result.Components {
		kept[c.ID] = true
	}
	for _, c := range p.result.Components {
		for _, dep := range c.Dependencies {
			if kept[dep] || dropped[dep] {
				continue
			}
			err := &MissingDependencyError{Component: c.ID, Dependency: dep}
			p.logger.Warn("component invalid", "id", c.ID, "err", err)
			c.AddError(err)
		}
	}

	g := dag.New()
	byID := make(map[string]*component.Component, len(p.result.Components))
	for _, c := range p.result.Components {
		g.Add(c.ID, c.Dependencies...)
		byID[c.ID] = c
	}
	for _, cycle := range g.Cycles() {
		for _, id := range cycle.Members {
			p.logger.Warn("component invalid", "id", id, "err", cycle)
			byID[id].AddError(fmt.Errorf("component %q: %w", id, cycle))
		}
	}
}

func (p *parser) inNamespaces(id string) bool {
	if len(p.opts.Namespaces) == 0 {
		return true
	}
	for _, ns := range p.opts.Namespaces {
		if strings.HasPrefix(id, ns) {
			return true
		}
	}
	return false
}

func (p *parser) excluded(id string) bool {
	for _, pattern := range p.result.Excludes {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
	}
	return false
}

func resolveRelative(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
