package redaction

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/upb/maturity-gateway/services"
)

const (
	// TruncationMarker is appended to text cut at the maximum length.
	TruncationMarker = "... [TRUNCATED]"

	DefaultToolMaxLength = 10000
	DefaultLogMaxLength  = 2000
)

// CustomPattern is a caller-supplied pattern applied after the built-ins.
type CustomPattern struct {
	Name        string `json:"name" validate:"required,max=64"`
	Regex       string `json:"regex" validate:"required,max=1024,regexp"`
	Replacement string `json:"replacement" validate:"required,max=128"`
	Category    string `json:"category,omitempty" validate:"omitempty,max=64"`
}

// Result is the outcome of a single Redact call.
type Result struct {
	Text   string
	Counts map[string]int
}

// Redactor applies an ordered pattern set with one token vocabulary. It is
// safe for concurrent use.
type Redactor struct {
	vocabulary Vocabulary
	patterns   []Pattern
	maxLength  int
	customs    []CustomPattern
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithMaxLength sets the truncation length in characters. Zero or less
// disables truncation.
func WithMaxLength(n int) Option {
	return func(r *Redactor) {
		r.maxLength = n
	}
}

// WithCustomPatterns appends caller patterns. They are compiled and
// validated by New.
func WithCustomPatterns(patterns []CustomPattern) Option {
	return func(r *Redactor) {
		r.customs = append(r.customs, patterns...)
	}
}

// New builds a Redactor for vocabulary. The default maximum length depends
// on the vocabulary.
func New(vocabulary Vocabulary, opts ...Option) (*Redactor, error) {
	r := &Redactor{vocabulary: vocabulary}
	switch vocabulary {
	case VocabularyTool:
		r.maxLength = DefaultToolMaxLength
	case VocabularyLog:
		r.maxLength = DefaultLogMaxLength
	default:
		return nil, services.NewValidationError(fmt.Sprintf("unknown redaction vocabulary %q", vocabulary), nil)
	}
	for _, opt := range opts {
		opt(r)
	}

	r.patterns = builtinPatterns(vocabulary)
	seen := make(map[string]struct{}, len(r.patterns)+len(r.customs))
	for _, p := range r.patterns {
		seen[p.Name] = struct{}{}
	}
	for _, c := range r.customs {
		p, err := compileCustom(c)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, services.NewValidationError(fmt.Sprintf("duplicate pattern name %q", p.Name), nil)
		}
		seen[p.Name] = struct{}{}
		r.patterns = append(r.patterns, p)
	}

	// Replacement tokens must never be matched again, in either direction.
	for _, p := range r.patterns[len(builtins):] {
		for _, other := range r.patterns {
			if other.matches(p.Replacement) {
				return nil, services.NewValidationError(
					fmt.Sprintf("replacement for pattern %q is matched by pattern %q", p.Name, other.Name), nil)
			}
			if p.matches(other.Replacement) {
				return nil, services.NewValidationError(
					fmt.Sprintf("pattern %q matches the replacement of pattern %q", p.Name, other.Name), nil)
			}
		}
	}
	return r, nil
}

// MustNew is New for static configuration; it panics on error.
func MustNew(vocabulary Vocabulary, opts ...Option) *Redactor {
	r, err := New(vocabulary, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func compileCustom(c CustomPattern) (Pattern, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Pattern{}, services.NewValidationError("custom pattern name is required", nil)
	}
	if c.Replacement == "" {
		return Pattern{}, services.NewValidationError(fmt.Sprintf("custom pattern %q has no replacement", name), nil)
	}
	re, err := regexp.Compile(c.Regex)
	if err != nil {
		return Pattern{}, services.NewValidationError(fmt.Sprintf("custom pattern %q has invalid regex", name), err)
	}
	if re.MatchString("") {
		return Pattern{}, services.NewValidationError(fmt.Sprintf("custom pattern %q matches empty text", name), nil)
	}
	category := c.Category
	if category == "" {
		category = CategoryCustom
	}
	return Pattern{Name: name, Category: category, Regex: re, Replacement: c.Replacement}, nil
}

func (p Pattern) matches(s string) bool {
	for _, m := range p.Regex.FindAllString(s, -1) {
		if p.accept == nil || p.accept(m) {
			return true
		}
	}
	return false
}

// Vocabulary returns the token vocabulary in use.
func (r *Redactor) Vocabulary() Vocabulary {
	return r.vocabulary
}

// Patterns returns the active patterns in application order.
func (r *Redactor) Patterns() []Pattern {
	return append([]Pattern(nil), r.patterns...)
}

// MaxLength returns the truncation length.
func (r *Redactor) MaxLength() int {
	return r.maxLength
}

// Redact truncates text and masks every pattern match. Counts holds only
// patterns that matched at least once.
func (r *Redactor) Redact(text string) Result {
	return r.redact(text, r.maxLength)
}

// Preview redacts text and bounds it to n characters, for log and audit
// previews.
func (r *Redactor) Preview(text string, n int) string {
	if r.maxLength > 0 && (n <= 0 || n > r.maxLength) {
		n = r.maxLength
	}
	return r.redact(text, n).Text
}

func (r *Redactor) redact(text string, maxLength int) Result {
	counts := make(map[string]int)
	out := truncate(text, maxLength)
	for _, p := range r.patterns {
		out = p.Regex.ReplaceAllStringFunc(out, func(match string) string {
			if p.accept != nil && !p.accept(match) {
				return match
			}
			counts[p.Name]++
			return p.Replacement
		})
	}
	return Result{Text: out, Counts: counts}
}

// truncate cuts text to maxLength characters and appends the marker. Output
// of a previous truncation (at most maxLength characters plus the marker) is
// left alone.
func truncate(text string, maxLength int) string {
	n := utf8.RuneCountInString(text)
	if maxLength <= 0 || n <= maxLength {
		return text
	}
	if n <= maxLength+utf8.RuneCountInString(TruncationMarker) && strings.HasSuffix(text, TruncationMarker) {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLength]) + TruncationMarker
}
