// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// docDirs are the documentation trees removed by delete_doc_directory.
var docDirs = []string{"doc", filepath.Join("share", "doc")}

func deleteDocDirectories(root string) error {
	for _, d := range docDirs {
		if err := os.RemoveAll(filepath.Join(root, d)); err != nil {
			return err
		}
	}
	return nil
}

func setExecutable(root, rel string) error {
	target, err := within(root, rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", rel)
	}
	return os.Chmod(target, info.Mode().Perm()|0o111)
}

const qtConf = "[Paths]\nPrefix=..\n"

func writeQtConf(root string) error {
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bin, "qt.conf"), []byte(qtConf), 0o644)
}

// qconfigPath is where the license-check settings live in a Qt tree.
var qconfigPath = filepath.Join("mkspecs", "qconfig.pri")

// setLicheck points the Qt build configuration at the license-check tool
// and stamps the edition and release date. Existing assignments are
// replaced, missing ones appended.
func setLicheck(root, licheck, license string, now time.Time) error {
	path := filepath.Join(root, qconfigPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	values := map[string]string{
		"QT_EDITION":      edition(license),
		"QT_LICHECK":      licheck,
		"QT_RELEASE_DATE": now.Format(time.DateOnly),
	}
	order := []string{"QT_EDITION", "QT_LICHECK", "QT_RELEASE_DATE"}

	var out strings.Builder
	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		key, _, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if v, known := values[key]; ok && known {
			line = key + " = " + v
			seen[key] = true
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for _, key := range order {
		if !seen[key] {
			out.WriteString(key + " = " + values[key] + "\n")
		}
	}
	return os.WriteFile(path, []byte(out.String()), 0o644)
}

func edition(license string) string {
	if strings.EqualFold(license, "opensource") || license == "" {
		return "OpenSource"
	}
	return "Enterprise"
}
