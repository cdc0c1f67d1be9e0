package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrOutsideBase is returned when a relative path escapes its base directory.
var ErrOutsideBase = errors.New("path escapes base directory")

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// ResolveWithin joins rel onto base and returns the absolute result, failing
// with ErrOutsideBase if it does not stay inside base. Absolute rel values
// are rejected.
func ResolveWithin(base, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideBase)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %s is absolute", ErrOutsideBase, rel)
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	full := filepath.Join(absBase, filepath.FromSlash(rel))

	relToBase, err := filepath.Rel(absBase, full)
	if err != nil || relToBase == "." || relToBase == ".." ||
		strings.HasPrefix(relToBase, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, rel)
	}
	return full, nil
}

// EnsureWritableDir creates dir if needed and checks that files can be
// created in it.
func EnsureWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("cannot access path: %w", err)
	}

	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("no write permission for %s: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// SanitizeFileName removes characters that are invalid in file names on
// common filesystems.
func SanitizeFileName(name string) string {
	safe := controlChars.ReplaceAllString(name, "")
	safe = invalidChars.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .")
	safe = dashRuns.ReplaceAllString(safe, "-")
	return strings.Trim(safe, "-")
}
