package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves user-supplied paths against the set of directories the
// agent may touch. The first root is primary: relative paths that exist in
// no root resolve against it.
type Guard struct {
	roots []string
}

// NewGuard resolves every root. At least one root is required and each
// must be an existing directory.
func NewGuard(roots ...string) (*Guard, error) {
	resolved := make([]string, 0, len(roots))
	seen := make(map[string]bool, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		path, err := ResolveRoot(root)
		if err != nil {
			return nil, err
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		resolved = append(resolved, path)
	}
	if len(resolved) == 0 {
		return nil, NewError(ErrorInvalidPath, "at least one root directory is required")
	}

	return &Guard{roots: resolved}, nil
}

// ResolveRoot expands ~, makes the path absolute, follows symlinks and
// checks that the result is a directory.
func ResolveRoot(root string) (string, error) {
	expanded, err := expandHome(strings.TrimSpace(root))
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute root path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(absPath))
	if err != nil {
		return "", NormalizeIOError(err, "resolve root")
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", NormalizeIOError(err, "stat root")
	}
	if !info.IsDir() {
		return "", NewError(ErrorNotDirectory, resolved+" is not a directory")
	}

	return filepath.Clean(resolved), nil
}

// Root returns the primary root.
func (g *Guard) Root() string {
	if g == nil || len(g.roots) == 0 {
		return ""
	}

	return g.roots[0]
}

func (g *Guard) Roots() []string {
	if g == nil {
		return nil
	}

	return append([]string(nil), g.roots...)
}

// ResolvePath validates and returns a canonical absolute path inside one of
// the roots. A relative path is tried against every root, matching the
// first path element case-insensitively so "downloads" finds "Downloads".
func (g *Guard) ResolvePath(inputPath string) (string, error) {
	if g == nil || len(g.roots) == 0 {
		return "", NewError(ErrorIO, "path guard is not configured")
	}

	trimmed := strings.TrimSpace(inputPath)
	if trimmed == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}

	candidate := expanded
	if !filepath.IsAbs(candidate) {
		candidate = g.locate(expanded)
	}

	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}

	effectivePath, err := canonicalPath(filepath.Clean(absPath))
	if err != nil {
		return "", err
	}
	if !g.Contains(effectivePath) {
		return "", NewError(ErrorOutsideRoots, "resolved path escapes the allowed folders")
	}

	return effectivePath, nil
}

// EnsureContained re-checks containment right before mutating operations.
func (g *Guard) EnsureContained(path string) error {
	effectivePath, err := canonicalPath(path)
	if err != nil {
		return err
	}
	if !g.Contains(effectivePath) {
		return NewError(ErrorOutsideRoots, "resolved path escapes the allowed folders")
	}

	return nil
}

// Contains reports whether a canonical path lies inside any root.
func (g *Guard) Contains(path string) bool {
	if g == nil {
		return false
	}
	for _, root := range g.roots {
		if isWithin(root, path) {
			return true
		}
	}

	return false
}

// RelPath returns a path relative to its containing root when representable.
func (g *Guard) RelPath(path string) string {
	if g == nil {
		return filepath.Clean(path)
	}

	for _, root := range g.roots {
		if !isWithin(root, path) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			break
		}
		return filepath.Clean(rel)
	}

	return filepath.Clean(path)
}

func (g *Guard) locate(relative string) string {
	for _, root := range g.roots {
		candidate := filepath.Join(root, relative)
		if _, err := os.Lstat(candidate); err == nil {
			return candidate
		}
	}

	first, rest, _ := strings.Cut(filepath.ToSlash(filepath.Clean(relative)), "/")
	if first != "." && first != ".." {
		for _, root := range g.roots {
			entries, err := os.ReadDir(root)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if strings.EqualFold(entry.Name(), first) {
					return filepath.Join(root, entry.Name(), filepath.FromSlash(rest))
				}
			}
		}
	}

	return filepath.Join(g.roots[0], relative)
}

func canonicalPath(path string) (string, error) {
	evaluated, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(evaluated), nil
	}
	if !os.IsNotExist(err) {
		return "", NormalizeIOError(err, "resolve path")
	}

	parent, remainder, splitErr := nearestExistingParent(path)
	if splitErr != nil {
		return "", splitErr
	}

	evaluatedParent, evalErr := filepath.EvalSymlinks(parent)
	if evalErr != nil {
		return "", NormalizeIOError(evalErr, "resolve path")
	}

	return filepath.Clean(filepath.Join(evaluatedParent, remainder)), nil
}

func nearestExistingParent(path string) (string, string, error) {
	current := filepath.Clean(path)
	parts := make([]string, 0)

	for {
		if _, err := os.Lstat(current); err == nil {
			remainder := ""
			for i := len(parts) - 1; i >= 0; i-- {
				remainder = filepath.Join(remainder, parts[i])
			}
			return current, remainder, nil
		}

		base := filepath.Base(current)
		if base == "." || base == string(filepath.Separator) {
			break
		}
		parts = append(parts, base)

		next := filepath.Dir(current)
		if next == current {
			break
		}
		current = next
	}

	return "", "", NewError(ErrorInvalidPath, "path could not be resolved")
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." {
		return false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
