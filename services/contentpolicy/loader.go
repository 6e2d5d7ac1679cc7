package contentpolicy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/upb/maturity-gateway/services"
)

// File is the on-disk shape of a policy file.
type File struct {
	Defaults *PolicySpec           `yaml:"defaults,omitempty"`
	Tools    map[string]PolicySpec `yaml:"tools"`
}

// PolicySpec is the YAML form of a single Policy.
type PolicySpec struct {
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty"`
	MaxSizeMB         *float64 `yaml:"max_size_mb,omitempty"`
	BlockedPatterns   []string `yaml:"blocked_patterns,omitempty"`
}

// Set maps tool names to policies. It is built once at startup and only read
// afterwards.
type Set struct {
	defaults Policy
	tools    map[string]Policy
}

var defaultBlockedPatterns = []string{
	".env", ".env.*", "*.env", "*secret*", "*.pem", "*.key", "id_rsa*", "*.p12", "*.pfx", ".htpasswd", "credentials*", "*.kdbx",
}

const defaultPoliciesYAML = `
defaults:
  max_size_mb: 50
  blocked_patterns: [".env", ".env.*", "*.env", "*secret*", "*.pem", "*.key", "id_rsa*", "*.p12", "*.pfx", ".htpasswd", "credentials*", "*.kdbx"]
tools:
  fs_read:
    allowed_extensions: [".txt", ".md", ".json", ".csv", ".pdf", ".docx", ".xlsx", ".yaml", ".yml"]
    max_size_mb: 50
  fs_write:
    allowed_extensions: [".txt", ".md", ".json", ".csv", ".yaml", ".yml"]
    max_size_mb: 10
  fs_list: {}
  pdf_parse:
    allowed_extensions: [".pdf"]
    max_size_mb: 100
  embed_texts:
    allowed_extensions: [".json"]
    max_size_mb: 200
  vector_query:
    allowed_extensions: [".json"]
    max_size_mb: 200
  transcribe_audio:
    allowed_extensions: [".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"]
    max_size_mb: 200
  pii_scrub:
    max_size_mb: 10
`

// DefaultSet returns the built-in policies for every registered tool.
func DefaultSet() *Set {
	set, err := ParseSet([]byte(defaultPoliciesYAML))
	if err != nil {
		panic(fmt.Sprintf("contentpolicy: built-in policies invalid: %v", err))
	}
	return set
}

// LoadSet reads a policy file. Tools missing from the file keep their
// built-in policy.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	builtin := DefaultSet()
	override, err := parseSet(data, builtin.defaults)
	if err != nil {
		return nil, err
	}
	return builtin.Merge(override), nil
}

// ParseSet parses YAML policy data. Unset default fields fall back to the
// built-in blocked patterns with no size limit.
func ParseSet(data []byte) (*Set, error) {
	return parseSet(data, MustPolicy(nil, 0, defaultBlockedPatterns))
}

func parseSet(data []byte, defaults Policy) (*Set, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, services.NewValidationError("failed to parse policy file", err)
	}

	if f.Defaults != nil {
		p, err := f.Defaults.build(defaults)
		if err != nil {
			return nil, err
		}
		defaults = p
	}

	set := &Set{defaults: defaults, tools: make(map[string]Policy, len(f.Tools))}
	for name, spec := range f.Tools {
		p, err := spec.build(defaults)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		set.tools[name] = p
	}
	return set, nil
}

// build overlays s on base; unset fields inherit from base.
func (s PolicySpec) build(base Policy) (Policy, error) {
	exts := base.allowedExtensions
	if s.AllowedExtensions != nil {
		exts = s.AllowedExtensions
	}
	maxSize := base.maxSizeMB
	if s.MaxSizeMB != nil {
		maxSize = *s.MaxSizeMB
	}
	patterns := base.blockedPatterns
	if s.BlockedPatterns != nil {
		patterns = s.BlockedPatterns
	}
	return NewPolicy(exts, maxSize, patterns)
}

// Merge returns a new Set holding s's policies overridden by other's.
func (s *Set) Merge(other *Set) *Set {
	merged := &Set{defaults: other.defaults, tools: make(map[string]Policy, len(s.tools)+len(other.tools))}
	for name, p := range s.tools {
		merged.tools[name] = p
	}
	for name, p := range other.tools {
		merged.tools[name] = p
	}
	return merged
}

// For returns the policy for tool, falling back to the defaults.
func (s *Set) For(tool string) Policy {
	if p, ok := s.tools[tool]; ok {
		return p
	}
	return s.defaults
}

// Defaults returns the fallback policy.
func (s *Set) Defaults() Policy {
	return s.defaults
}

// Tools returns the configured tool names, sorted.
func (s *Set) Tools() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
