// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonPortableName is the sentinel wrapped by NonPortableNameError.
var ErrNonPortableName = errors.New("name is not portable")

// windowsReserved are device names Windows refuses as file names, with or
// without an extension.
var windowsReserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// NonPortableNameError reports a file name that cannot be created on every
// supported platform.
type NonPortableNameError struct {
	Name   string
	Reason string
}

func (e *NonPortableNameError) Error() string {
	return fmt.Sprintf("%q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrNonPortableName.
func (e *NonPortableNameError) Unwrap() error { return ErrNonPortableName }

// IsWindowsReservedName reports whether name, ignoring its extension and
// case, is a Windows device name.
func IsWindowsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return windowsReserved[strings.ToUpper(base)]
}

// CheckPortableName validates one path element that ends up on installer
// targets: a component id or an archive name.
func CheckPortableName(name string) error {
	switch {
	case name == "":
		return &NonPortableNameError{Name: name, Reason: "empty"}
	case IsWindowsReservedName(name):
		return &NonPortableNameError{Name: name, Reason: "reserved on Windows"}
	case strings.ContainsAny(name, `<>:"|?*`):
		return &NonPortableNameError{Name: name, Reason: `contains one of <>:"|?*`}
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, " "):
		return &NonPortableNameError{Name: name, Reason: "ends with a dot or space"}
	}
	for _, r := range name {
		if r < 0x20 {
			return &NonPortableNameError{Name: name, Reason: "contains a control character"}
		}
	}
	return nil
}
