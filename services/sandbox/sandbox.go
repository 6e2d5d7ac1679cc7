// Package sandbox confines user-supplied paths to a per-engagement directory.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/upb/maturity-gateway/services"
)

const (
	engagementsDir = "engagements"
	rootDirMode    = 0o750
)

var engagementIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateEngagementID rejects ids that could address anything other than a
// single directory below the engagements folder.
func ValidateEngagementID(id string) error {
	if !engagementIDPattern.MatchString(id) {
		return services.NewValidationError("invalid engagement id", nil).
			WithDetail("pattern", engagementIDPattern.String())
	}
	return nil
}

// ValidateProjectID applies the same rules to project ids, which name report files.
func ValidateProjectID(id string) error {
	if !engagementIDPattern.MatchString(id) {
		return services.NewValidationError("invalid project id", nil).
			WithDetail("pattern", engagementIDPattern.String())
	}
	return nil
}

// Resolve maps userPath onto root and returns its canonical absolute form.
// Relative paths are joined to root; absolute paths are taken as given. The
// result is always root itself or a descendant of it. Symlinks are followed
// before the containment check, so a link pointing outside root is rejected
// even when its lexical path looks safe. Nothing is cached between calls.
func Resolve(userPath, root string) (string, error) {
	if root == "" {
		return "", services.NewValidationError("sandbox root is required", nil)
	}
	if strings.ContainsRune(userPath, 0) {
		return "", services.NewValidationError("path contains a NUL byte", nil)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", services.WrapInternal("resolve sandbox root", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.NewNotFoundError("sandbox root does not exist", err)
		}
		return "", services.WrapInternal("canonicalize sandbox root", err)
	}

	var candidate string
	if filepath.IsAbs(userPath) {
		candidate = filepath.Clean(userPath)
	} else {
		candidate = filepath.Join(rootAbs, userPath)
	}

	// Lexical check first so obvious escapes never touch the filesystem.
	if !within(rootAbs, candidate) && !within(canonicalRoot, candidate) {
		return "", services.NewPathTraversalError("path escapes sandbox root")
	}

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", services.WrapInternal("canonicalize path", err)
	}
	if !within(canonicalRoot, resolved) {
		return "", services.NewPathTraversalError("path escapes sandbox root")
	}
	return resolved, nil
}

// within reports whether target equals root or lies below it.
func within(root, target string) bool {
	if target == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}

// maxLinkHops bounds how many dangling links resolveExisting will chase.
const maxLinkHops = 40

// resolveExisting follows symlinks on the deepest existing ancestor of path
// and re-appends the components that do not exist yet. A missing component
// that is itself a dangling symlink is replaced by its target, so the caller's
// containment check sees where a write would really land.
func resolveExisting(path string) (string, error) {
	return resolveHops(path, 0)
}

func resolveHops(path string, hops int) (string, error) {
	var missing []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return appendMissing(resolved, missing), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			if hops >= maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links")
			}
			target, err := os.Readlink(current)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(target) {
				parent, err := resolveHops(filepath.Dir(current), hops+1)
				if err != nil {
					return "", err
				}
				target = filepath.Join(parent, target)
			}
			resolved, err := resolveHops(target, hops+1)
			if err != nil {
				return "", err
			}
			return appendMissing(resolved, missing), nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %q", filepath.Base(path))
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func appendMissing(resolved string, missing []string) string {
	for i := len(missing) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, missing[i])
	}
	return resolved
}

// Roots hands out per-engagement sandbox directories below a base path.
type Roots struct {
	base string
}

// NewRoots creates a Roots rooted at basePath.
func NewRoots(basePath string) *Roots {
	return &Roots{base: basePath}
}

// Base returns the configured base data path.
func (r *Roots) Base() string {
	return r.base
}

// Path returns the sandbox root for engagementID without touching the filesystem.
func (r *Roots) Path(engagementID string) (string, error) {
	if err := ValidateEngagementID(engagementID); err != nil {
		return "", err
	}
	return filepath.Join(r.base, engagementsDir, engagementID), nil
}

// Ensure creates the sandbox root for engagementID if needed and returns its
// canonical path.
func (r *Roots) Ensure(engagementID string) (string, error) {
	root, err := r.Path(engagementID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, rootDirMode); err != nil {
		return "", services.WrapInternal("create sandbox root", err)
	}
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", services.WrapInternal("canonicalize sandbox root", err)
	}
	return canonical, nil
}
