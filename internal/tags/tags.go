// SPDX-License-Identifier: MPL-2.0

package tags

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/invowk/stagehand/pkg/component"
)

// Global and component tag names.
const (
	PackageCreationDate = "%PACKAGE_CREATION_DATE%"
	SDKVersionNum       = "%SDK_VERSION_NUM%"
	SDKName             = "%SDK_NAME%"

	TargetInstallDir = "%TARGET_INSTALL_DIR%"
	VersionNum       = "%VERSION_NUM%"
	VersionTag       = "%VERSION_TAG%"
	ComponentSHA1    = "%COMPONENT_SHA1%"
	ComponentName    = "%COMPONENT_NAME%"
	DisplayName      = "%DISPLAY_NAME%"
	Description      = "%DESCRIPTION%"
	Dependencies     = "%DEPENDENCIES%"
)

// ErrInvalidSubstitution is returned for malformed "%KEY%=value" entries.
var ErrInvalidSubstitution = errors.New("invalid substitution")

// Set maps placeholders (including the surrounding percent signs) to values.
type Set map[string]string

// ParseSubstitution splits "%KEY%=value".
func ParseSubstitution(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || len(key) < 3 || !strings.HasPrefix(key, "%") || !strings.HasSuffix(key, "%") {
		return "", "", fmt.Errorf("%w: %q (want %%KEY%%=value)", ErrInvalidSubstitution, s)
	}
	return key, value, nil
}

// Global returns the tags shared by every file of a build. Later
// substitutions override earlier ones and the built-in tags.
func Global(name, version string, date time.Time, substitutions []string) (Set, error) {
	s := Set{
		PackageCreationDate: date.Format(time.DateOnly),
		SDKVersionNum:       version,
		SDKName:             name,
	}
	for _, sub := range substitutions {
		k, v, err := ParseSubstitution(sub)
		if err != nil {
			return nil, err
		}
		s[k] = v
	}
	return s, nil
}

// ForComponent returns the tags describing c. sha1 is the resolved
// provenance hash, possibly empty.
func ForComponent(c *component.Component, sha1 string) Set {
	return Set{
		TargetInstallDir: c.TargetInstallBase,
		VersionNum:       c.Version,
		VersionTag:       c.VersionTag,
		ComponentSHA1:    sha1,
		ComponentName:    c.ID,
		DisplayName:      c.DisplayName,
		Description:      c.Description,
		Dependencies:     strings.Join(c.Dependencies, ","),
	}
}

// Merge returns a new Set with the entries of s overridden by other.
func (s Set) Merge(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Replacer builds a replacer that tries longer placeholders first.
func (s Set) Replacer() *strings.Replacer {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, s[k])
	}
	return strings.NewReplacer(pairs...)
}

// Apply substitutes every placeholder in the regular files below dir and
// returns the number of files changed. Files are rewritten only when their
// content changes.
func (s Set) Apply(dir string) (int, error) {
	r := s.Replacer()
	changed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Contains(data, []byte("%")) {
			return nil
		}
		out := r.Replace(string(data))
		if out == string(data) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
			return err
		}
		changed++
		return nil
	})
	return changed, err
}
