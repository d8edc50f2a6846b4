// Package sanitize validates untrusted paths and names before they reach the
// local filesystem or team storage.
package sanitize

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrAbsolutePath indicates an absolute path was provided where relative was expected.
	ErrAbsolutePath = errors.New("absolute path not allowed")

	// ErrRelativePath indicates a storage path does not start at the storage root.
	ErrRelativePath = errors.New("storage path must be absolute")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// hasTraversal reports whether any component of p is "..". Both separators
// are checked so Windows-style archive entries cannot sneak through.
func hasTraversal(p string) bool {
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// ValidatePath checks a local path for traversal and returns it cleaned and
// absolute. If allowedRoot is non-empty the path must resolve inside it.
func ValidatePath(p, allowedRoot string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}
	if hasTraversal(p) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}

	absPath, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q escapes %q", ErrPathTraversal, p, allowedRoot)
		}
	}

	return absPath, nil
}

// EntryPath resolves an archive entry name under root. Absolute names and
// names that climb out of root are rejected.
func EntryPath(root, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyPath
	}
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, name)
	}
	return ValidatePath(filepath.Join(root, filepath.FromSlash(slashed)), root)
}

// StoragePath validates a team storage path and returns it cleaned. Storage
// paths always use forward slashes and start at the storage root.
func StoragePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrRelativePath, p)
	}
	if hasTraversal(p) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	return path.Clean(p), nil
}

// SafeBasename returns the last element of a storage path, ignoring any
// trailing slash.
func SafeBasename(p string) (string, error) {
	clean, err := StoragePath(p)
	if err != nil {
		return "", err
	}
	base := path.Base(clean)
	if base == "/" || base == "." {
		return "", fmt.Errorf("%w: no base name in %q", ErrEmptyPath, p)
	}
	return base, nil
}
