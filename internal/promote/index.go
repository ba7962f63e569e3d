// SPDX-License-Identifier: MPL-2.0

package promote

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// IndexFile is the repository index at the root of every repository tree.
const IndexFile = "Updates.xml"

type (
	// Index maps component names to versions of one repository index.
	Index map[string]string

	// Advance is a component whose pending version is newer than the
	// target's. From is empty for components new to the target.
	Advance struct {
		Name string
		From string
		To   string
	}

	updatesDoc struct {
		XMLName  xml.Name `xml:"Updates"`
		Packages []struct {
			Name    string `xml:"Name"`
			Version string `xml:"Version"`
		} `xml:"PackageUpdate"`
	}
)

// ParseIndex reads the component versions of an Updates.xml document.
func ParseIndex(data []byte) (Index, error) {
	var doc updatesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}
	idx := make(Index, len(doc.Packages))
	for _, p := range doc.Packages {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		idx[name] = strings.TrimSpace(p.Version)
	}
	return idx, nil
}

// Advances lists, sorted by name, the components of pending that a
// new-components-only merge would move into target.
func Advances(pending, target Index) []Advance {
	var out []Advance
	for name, to := range pending {
		from, ok := target[name]
		if !ok || CompareVersions(to, from) > 0 {
			out = append(out, Advance{Name: name, From: from, To: to})
		}
	}
	slices.SortFunc(out, func(a, b Advance) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// CompareVersions orders two component versions. Versions that are valid
// semantic versions (with or without a leading "v") compare semantically;
// otherwise dot and dash separated fields compare numerically where both
// are numbers and lexically where not.
func CompareVersions(a, b string) int {
	va, vb := canonical(a), canonical(b)
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return compareFields(a, b)
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func compareFields(a, b string) int {
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '-' })
	}
	fa, fb := split(a), split(b)
	for i := range min(len(fa), len(fb)) {
		if c := compareField(fa[i], fb[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(fa), len(fb))
}

func compareField(a, b string) int {
	na, aNum := numeric(a)
	nb, bNum := numeric(b)
	if aNum && bNum {
		if c := cmp.Compare(len(na), len(nb)); c != 0 {
			return c
		}
		return strings.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

// numeric reports whether s is all digits and returns it without leading zeros.
func numeric(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed, true
}
