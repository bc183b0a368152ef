// Package security guards file access requested over the debug surface.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned for paths that escape their directory,
// through ".." or through a symlink.
var ErrOutsideDirectory = errors.New("path escapes directory")

// ResolveWithin joins name onto dir and returns the resulting path if it
// stays inside dir once symlinks are resolved. The path need not exist.
func ResolveWithin(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s is absolute", ErrOutsideDirectory, name)
	}
	path := filepath.Join(dir, name)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// ValidatePathWithinDirectory reports whether path lies inside dir after
// both are made absolute and their symlinks are resolved. For a path that
// does not exist yet, its deepest existing parent is resolved instead.
func ValidatePathWithinDirectory(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	realPath := canonical(absPath)

	rel, err := filepath.Rel(realDir, realPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is not inside %s", ErrOutsideDirectory, path, dir)
	}
	return nil
}

// canonical resolves symlinks in the longest existing prefix of path.
func canonical(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	rest := ""
	for dir := path; ; {
		parent := filepath.Dir(dir)
		rest = filepath.Join(filepath.Base(dir), rest)
		if parent == dir {
			return path
		}
		if _, err := os.Lstat(parent); err == nil {
			if real, err := filepath.EvalSymlinks(parent); err == nil {
				return filepath.Join(real, rest)
			}
			return path
		}
		dir = parent
	}
}
