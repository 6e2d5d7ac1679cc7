// Package contentpolicy validates file extensions, sizes and names against
// per-tool policies.
package contentpolicy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/upb/maturity-gateway/services"
)

const bytesPerMiB = 1024 * 1024

// Policy is the immutable per-tool content policy. Use the With* methods to
// derive a modified copy.
type Policy struct {
	allowedExtensions []string
	maxSizeMB         float64
	blockedPatterns   []string
}

// NewPolicy builds a Policy. Extensions are normalised to lower case with a
// leading dot; blocked patterns are lower-cased and validated as globs.
func NewPolicy(allowedExtensions []string, maxSizeMB float64, blockedPatterns []string) (Policy, error) {
	patterns := make([]string, 0, len(blockedPatterns))
	for _, p := range blockedPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return Policy{}, services.NewValidationError(fmt.Sprintf("invalid blocked pattern %q", p), err)
		}
		patterns = append(patterns, p)
	}
	if maxSizeMB < 0 {
		return Policy{}, services.NewValidationError("max size must not be negative", nil)
	}
	return Policy{
		allowedExtensions: normalizeExtensions(allowedExtensions),
		maxSizeMB:         maxSizeMB,
		blockedPatterns:   patterns,
	}, nil
}

// MustPolicy is NewPolicy for static tables; it panics on invalid input.
func MustPolicy(allowedExtensions []string, maxSizeMB float64, blockedPatterns []string) Policy {
	p, err := NewPolicy(allowedExtensions, maxSizeMB, blockedPatterns)
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeExtensions(exts []string) []string {
	seen := make(map[string]struct{}, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// AllowedExtensions returns a copy of the allowed extension set.
func (p Policy) AllowedExtensions() []string {
	return append([]string(nil), p.allowedExtensions...)
}

// MaxSizeMB returns the size ceiling; zero disables the size check.
func (p Policy) MaxSizeMB() float64 {
	return p.maxSizeMB
}

// BlockedPatterns returns a copy of the blocked filename globs.
func (p Policy) BlockedPatterns() []string {
	return append([]string(nil), p.blockedPatterns...)
}

// WithAllowedExtensions returns a copy of p with a new extension set.
func (p Policy) WithAllowedExtensions(exts []string) Policy {
	p.allowedExtensions = normalizeExtensions(exts)
	return p
}

// WithMaxSizeMB returns a copy of p with a new size ceiling.
func (p Policy) WithMaxSizeMB(maxSizeMB float64) Policy {
	if maxSizeMB < 0 {
		maxSizeMB = 0
	}
	p.maxSizeMB = maxSizeMB
	return p
}

// WithBlockedPatterns returns a copy of p with new blocked globs. Invalid
// globs are reported as a validation error.
func (p Policy) WithBlockedPatterns(patterns []string) (Policy, error) {
	next, err := NewPolicy(p.allowedExtensions, p.maxSizeMB, patterns)
	if err != nil {
		return p, err
	}
	return next, nil
}

// Check runs the name checks and, when sizeBytes is non-negative, the size
// check. Pass a negative size to skip it.
func (p Policy) Check(path string, sizeBytes int64) error {
	if err := CheckBlockedName(path, p.blockedPatterns); err != nil {
		return err
	}
	if err := CheckExtension(path, p.allowedExtensions); err != nil {
		return err
	}
	if sizeBytes >= 0 {
		return CheckSize(sizeBytes, p.maxSizeMB)
	}
	return nil
}

// CheckExtension verifies that path ends in one of allowed, ignoring case.
// An empty allowed set accepts every extension.
func CheckExtension(path string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	lower := strings.ToLower(path)
	for _, ext := range allowed {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = "(none)"
	}
	return services.NewFileTypeError(fmt.Sprintf("file type %s not allowed; allowed: %s", ext, strings.Join(allowed, ", "))).
		WithDetail("extension", ext).
		WithDetail("allowed_extensions", append([]string(nil), allowed...))
}

// CheckSize compares sizeBytes in MiB against maxSizeMB. Writes must pass the
// length of the content about to be written.
func CheckSize(sizeBytes int64, maxSizeMB float64) error {
	if maxSizeMB <= 0 {
		return nil
	}
	sizeMB := float64(sizeBytes) / bytesPerMiB
	if sizeMB > maxSizeMB {
		return services.NewFileSizeError(fmt.Sprintf("file size %.2fMB exceeds limit of %.2fMB", sizeMB, maxSizeMB)).
			WithDetail("size_mb", sizeMB).
			WithDetail("max_size_mb", maxSizeMB)
	}
	return nil
}

// CheckFileSize stats an existing file and applies CheckSize.
func CheckFileSize(path string, maxSizeMB float64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return services.NewNotFoundError("file not found", nil)
		}
		return services.WrapInternal("stat file", err)
	}
	if info.IsDir() {
		return nil
	}
	return CheckSize(info.Size(), maxSizeMB)
}

// CheckBlockedName matches the lower-cased base name of path against each glob.
func CheckBlockedName(path string, patterns []string) error {
	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), name)
		if err != nil {
			return services.NewValidationError(fmt.Sprintf("invalid blocked pattern %q", pattern), err)
		}
		if matched {
			return services.NewSecurityError(fmt.Sprintf("file name matches blocked pattern %s", pattern)).
				WithDetail("pattern", pattern)
		}
	}
	return nil
}
