// Package security validates caller-supplied names before they are turned
// into filesystem paths.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxSegmentLen bounds a single path segment built from user input.
const maxSegmentLen = 128

// ValidateSegment checks that s can be used verbatim as one path segment of a
// model key. Unlike sanitising, rejecting keeps the mapping from key to path
// one-to-one: two different versions never collapse to the same directory.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("path segment must not be empty")
	}
	if len(s) > maxSegmentLen {
		return fmt.Errorf("path segment %q exceeds %d bytes", s, maxSegmentLen)
	}
	if s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return fmt.Errorf("path segment %q must not start with a dot", s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == '+', r == '=':
		default:
			return fmt.Errorf("path segment %q contains invalid character %q", s, r)
		}
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath does not escape dir once
// both are cleaned and made absolute. Symlinks in existing parents are
// resolved so a link inside dir cannot point outside it.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalDir := resolveExisting(absDir)

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p and
// re-attaches the remainder.
func resolveExisting(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for check := p; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return p
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, rest)
		}
		check = parent
	}
}
