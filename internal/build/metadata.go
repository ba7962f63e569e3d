// SPDX-License-Identifier: MPL-2.0

package build

import (
	"encoding/xml"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/stagehand/internal/tags"
	"github.com/invowk/stagehand/pkg/component"
)

// packageXML is the generated meta/package.xml of components without a
// metadata template. Values are tag placeholders filled in later.
type packageXML struct {
	XMLName              xml.Name `xml:"Package"`
	DisplayName          string   `xml:"DisplayName"`
	Description          string   `xml:"Description"`
	Version              string   `xml:"Version"`
	ReleaseDate          string   `xml:"ReleaseDate"`
	Name                 string   `xml:"Name"`
	Dependencies         string   `xml:"Dependencies,omitempty"`
	Default              string   `xml:"Default,omitempty"`
	DownloadableArchives string   `xml:"DownloadableArchives,omitempty"`
}

// writeMetadata populates <packages>/<id>/meta from the component's template
// directory or generates package.xml.
func writeMetadata(packages string, c *component.Component) (string, error) {
	meta := filepath.Join(packages, c.ID, "meta")
	if err := os.MkdirAll(meta, 0o755); err != nil {
		return "", err
	}
	if c.MetadataTemplateDir != "" {
		return meta, copyTree(c.MetadataTemplateDir, meta)
	}

	pkg := packageXML{
		DisplayName: tags.DisplayName,
		Description: tags.Description,
		Version:     tags.VersionNum,
		ReleaseDate: tags.PackageCreationDate,
		Name:        tags.ComponentName,
	}
	if len(c.Dependencies) > 0 {
		pkg.Dependencies = tags.Dependencies
	}
	if c.IsRoot {
		pkg.Default = "true"
	}
	var archives []string
	for _, p := range c.Payloads {
		archives = append(archives, p.ArchiveName)
	}
	pkg.DownloadableArchives = strings.Join(archives, ",")

	data, err := xml.MarshalIndent(pkg, "", "    ")
	if err != nil {
		return "", err
	}
	data = append([]byte(xml.Header), append(data, '\n')...)
	return meta, os.WriteFile(filepath.Join(meta, "package.xml"), data, 0o644)
}

// copyTree copies the regular files and directories below src into dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
