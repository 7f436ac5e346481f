// Package sandbox decides whether a path lies inside a root directory.
//
// Both sides are canonicalized (absolute, cleaned, symlinks resolved) before
// comparison. A symlink inside the root that points elsewhere is judged by
// where it points, not where it sits. Every failure is reported as "outside".
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot indicates the resolved path is not within the resolved root.
	ErrOutsideRoot = errors.New("sandbox: path outside root")

	// ErrUnresolvable indicates the root or the path could not be canonicalized.
	ErrUnresolvable = errors.New("sandbox: cannot resolve path")
)

// PathError records a failed containment check.
type PathError struct {
	Path string
	Root string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %s (root %s)", e.Err, e.Path, e.Root)
}

func (e *PathError) Unwrap() error { return e.Err }

// Validator checks paths against a fixed root.
type Validator struct {
	root string
}

// New returns a Validator for root. The root must be an absolute path to an
// existing directory; it is re-resolved on every Check so a root that is
// itself swapped for a symlink is still judged by its current target.
func New(root string) (*Validator, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("sandbox: root must be absolute, got %q", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: root is not a directory: %s", root)
	}
	return &Validator{root: root}, nil
}

// Root returns the configured (unresolved) root.
func (v *Validator) Root() string { return v.root }

// Check is Contains(v.Root(), path).
func (v *Validator) Check(path string) (string, error) {
	return Contains(v.root, path)
}

// Contains reports whether candidate resolves to a location inside root and
// returns the resolved location. A relative candidate is taken relative to
// root. A candidate that does not exist yet is resolved through its parent
// directory, which must exist.
func Contains(root, candidate string) (string, error) {
	resolvedRoot, err := canonicalize(root)
	if err != nil {
		return "", &PathError{Path: candidate, Root: root, Err: fmt.Errorf("%w: root: %v", ErrUnresolvable, err)}
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveCandidate(abs)
	if err != nil {
		return "", &PathError{Path: candidate, Root: root, Err: fmt.Errorf("%w: %v", ErrUnresolvable, err)}
	}

	if !within(resolved, resolvedRoot) {
		return "", &PathError{Path: candidate, Root: root, Err: ErrOutsideRoot}
	}
	return resolved, nil
}

// canonicalize returns the absolute, symlink-free form of an existing path.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// resolveCandidate canonicalizes abs, falling back to its parent when abs
// does not exist. A dangling symlink is not "missing": writing through it
// would create its target, so it is rejected.
func resolveCandidate(abs string) (string, error) {
	resolved, err := canonicalize(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if _, lerr := os.Lstat(abs); lerr == nil {
		return "", fmt.Errorf("dangling symlink %s", abs)
	}

	parent, err := canonicalize(filepath.Dir(abs))
	if err != nil {
		return "", fmt.Errorf("parent directory: %w", err)
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// within reports whether path equals root or is a descendant of it.
// Uses filepath.Rel so "/notes-evil" is not mistaken for a child of "/notes".
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
