// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// maxDescriptorSize bounds descriptor files read from disk.
const maxDescriptorSize = 8 << 20

type (
	descriptorFile struct {
		Installer *installerSection           `toml:"installer"`
		Component map[string]componentSection `toml:"component"`
	}

	installerSection struct {
		Name           string   `toml:"name"`
		Version        string   `toml:"version"`
		License        string   `toml:"license"`
		ConfigTemplate string   `toml:"config_template"`
		Includes       []string `toml:"includes"`
		Exclude        []string `toml:"exclude"`
		Substitutions  []string `toml:"substitutions"`
	}

	componentSection struct {
		Version           string           `toml:"version"`
		VersionTag        string           `toml:"version_tag"`
		TargetInstallBase string           `toml:"target_install_base"`
		RootComponent     bool             `toml:"root_component"`
		IncludeFilter     string           `toml:"include_filter"`
		TemplateDir       string           `toml:"template_dir"`
		SHA1              string           `toml:"sha1"`
		SHA1URI           string           `toml:"sha1_uri"`
		Dependencies      []string         `toml:"dependencies"`
		DisplayName       string           `toml:"display_name"`
		Description       string           `toml:"description"`
		Payload           []payloadSection `toml:"payload"`
	}

	payloadSection struct {
		ArchiveName string `toml:"archive_name"`
		URI         string `toml:"uri"`
		BaseURI     string `toml:"base_uri"`
		Pattern     string `toml:"pattern"`
		RawURI      string `toml:"raw_uri"`
		StripDirs   int    `toml:"strip_dirs"`
		Finalize    string `toml:"finalize"`
		RPathTarget string `toml:"rpath_target"`
	}
)

// readFile decodes one descriptor file, rejecting unknown keys.
func readFile(path string) (*descriptorFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxDescriptorSize {
		return nil, fmt.Errorf("file size %d bytes exceeds maximum %d bytes", info.Size(), maxDescriptorSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f descriptorFile
	if err := dec.Decode(&f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("line %d, column %d: %w", row, col, err)
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return nil, fmt.Errorf("unknown keys:\n%s", serr.String())
		}
		return nil, err
	}
	return &f, nil
}
