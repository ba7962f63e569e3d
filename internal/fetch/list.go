// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// maxListDepth bounds recursion into nested index pages.
const maxListDepth = 16

// Entry is one file found under a listed base URI.
type Entry struct {
	// URI locates the file.
	URI string
	// RelPath is the slash-separated path of the file below the base URI.
	RelPath string
}

// List enumerates every file below baseURI, recursing into subdirectories.
// Local directories are walked; HTTP directories are read from their index
// pages. Entries are sorted by RelPath.
func (c *Client) List(ctx context.Context, baseURI string) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	if local, ok := localPath(baseURI); ok {
		entries, err = listLocal(local)
	} else {
		base := baseURI
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		err = c.listHTTP(ctx, base, "", 0, &entries)
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.RelPath, b.RelPath) })
	return entries, nil
}

func listLocal(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapNotExist(err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{URI: p, RelPath: filepath.ToSlash(rel)})
		return nil
	})
	return entries, err
}

func (c *Client) listHTTP(ctx context.Context, dirURL, prefix string, depth int, out *[]Entry) error {
	if depth > maxListDepth {
		return fmt.Errorf("listing %s: directory nesting exceeds %d levels", dirURL, maxListDepth)
	}
	base, err := url.Parse(dirURL)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dirURL, err)
	}

	body, err := c.get(ctx, dirURL)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dirURL, err)
	}
	hrefs, err := parseIndex(io.LimitReader(body, maxIndexBytes))
	_ = body.Close()
	if err != nil {
		return fmt.Errorf("listing %s: %w", dirURL, err)
	}

	seen := make(map[string]bool)
	for _, href := range hrefs {
		name, isDir, ok := childName(base, href)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true

		child := base.JoinPath(name)
		if isDir {
			if err := c.listHTTP(ctx, child.String()+"/", prefix+name+"/", depth+1, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, Entry{URI: child.String(), RelPath: prefix + name})
	}
	return nil
}

// childName resolves href against base and returns the unescaped name of a
// direct child of base. Parent links, sort links and links leaving the
// directory are rejected.
func childName(base *url.URL, href string) (string, bool, bool) {
	ref, err := url.Parse(href)
	if err != nil || ref.RawQuery != "" || ref.Fragment != "" && ref.Path == "" {
		return "", false, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != base.Scheme || abs.Host != base.Host {
		return "", false, false
	}
	rest, ok := strings.CutPrefix(abs.Path, base.Path)
	if !ok || rest == "" {
		return "", false, false
	}
	isDir := strings.HasSuffix(rest, "/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") || rest == "." || rest == ".." {
		return "", false, false
	}
	return rest, isDir, true
}

// parseIndex extracts every anchor href from an HTML document.
func parseIndex(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		for _, attr := range n.Attr {
			if attr.Key == "href" {
				hrefs = append(hrefs, attr.Val)
			}
		}
	}
	return hrefs, nil
}
