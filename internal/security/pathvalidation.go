// Package security validates file paths handed to shelves by hosts.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrRelativePath rejects paths that depend on the daemon's working
	// directory.
	ErrRelativePath = errors.New("path must be absolute")
	// ErrInvalidPath rejects empty paths and paths with NUL bytes.
	ErrInvalidPath = errors.New("invalid path")
	// ErrOutsideRoots rejects paths that resolve outside every allowed root.
	ErrOutsideRoots = errors.New("path is outside the allowed roots")
)

// DropPolicy decides which paths may be added to a shelf. The zero value
// accepts any absolute path.
type DropPolicy struct {
	// AllowedRoots, when set, restricts drops to these directory trees.
	// Symlinks are resolved before comparing.
	AllowedRoots []string
}

// Validate checks one dropped path.
func (p DropPolicy) Validate(path string) error {
	if path == "" || strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrRelativePath, path)
	}
	if len(p.AllowedRoots) == 0 {
		return nil
	}
	for _, root := range p.AllowedRoots {
		if WithinRoot(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not under %v", ErrOutsideRoots, path, p.AllowedRoots)
}

// ValidateAll checks every path and reports the first rejection.
func (p DropPolicy) ValidateAll(paths []string) error {
	for _, path := range paths {
		if err := p.Validate(path); err != nil {
			return err
		}
	}
	return nil
}

// WithinRoot reports whether path resolves inside root. Paths that do not
// exist yet are resolved through their nearest existing parent, so a
// symlinked parent cannot smuggle a path out of root.
func WithinRoot(path, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonical(absPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutsideRoots, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrOutsideRoots, path, root)
	}
	return nil
}

// canonical resolves symlinks in abs, or in its deepest existing parent.
func canonical(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest)
		}
		if dir == filepath.Dir(dir) {
			return abs
		}
	}
}
