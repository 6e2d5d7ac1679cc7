// Package redaction masks PII and credentials in free text and structured data.
package redaction

import (
	"regexp"
	"unicode"
)

// Vocabulary selects the family of replacement tokens a Redactor emits.
type Vocabulary string

const (
	// VocabularyTool emits tokens like [REDACTED-EMAIL]. Used for tool output
	// and redaction reports.
	VocabularyTool Vocabulary = "tool"
	// VocabularyLog emits tokens like [EMAIL_REDACTED]. Used for log and audit
	// previews.
	VocabularyLog Vocabulary = "log"
)

// Pattern categories reported in the category breakdown.
const (
	CategoryContact    = "contact"
	CategoryGovernment = "government_id"
	CategoryFinancial  = "financial"
	CategoryNetwork    = "network"
	CategoryCredential = "credential"
	CategoryCustom     = "custom"
)

// Pattern is a named regex with its replacement token.
type Pattern struct {
	Name        string
	Category    string
	Regex       *regexp.Regexp
	Replacement string

	// accept filters raw matches; nil accepts all.
	accept func(string) bool
}

type builtin struct {
	name     string
	category string
	re       *regexp.Regexp
	tokens   map[Vocabulary]string
	accept   func(string) bool
}

// Order matters: specific shapes run before the generic ones so that, for
// example, a dashed phone number is never counted as a card.
var builtins = []builtin{
	{
		name:     "email",
		category: CategoryContact,
		re:       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-EMAIL]", VocabularyLog: "[EMAIL_REDACTED]"},
	},
	{
		name:     "phone_dashed",
		category: CategoryContact,
		re:       regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-PHONE]", VocabularyLog: "[PHONE_REDACTED]"},
	},
	{
		name:     "phone_parenthesized",
		category: CategoryContact,
		re:       regexp.MustCompile(`\(\d{3}\)\s?\d{3}-\d{4}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-PHONE]", VocabularyLog: "[PHONE_REDACTED]"},
	},
	{
		name:     "ssn_dashed",
		category: CategoryGovernment,
		re:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-SSN]", VocabularyLog: "[SSN_REDACTED]"},
	},
	{
		name:     "ssn_spaced",
		category: CategoryGovernment,
		re:       regexp.MustCompile(`\b\d{3} \d{2} \d{4}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-SSN]", VocabularyLog: "[SSN_REDACTED]"},
	},
	{
		name:     "credit_card",
		category: CategoryFinancial,
		re:       regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-CC]", VocabularyLog: "[CREDIT_CARD_REDACTED]"},
	},
	{
		name:     "ipv4",
		category: CategoryNetwork,
		re:       regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-IP]", VocabularyLog: "[IP_REDACTED]"},
	},
	{
		name:     "aws_access_key",
		category: CategoryCredential,
		re:       regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-AWS-KEY]", VocabularyLog: "[AWS_KEY_REDACTED]"},
	},
	{
		name:     "generic_token",
		category: CategoryCredential,
		re:       regexp.MustCompile(`\b[A-Za-z0-9]{20,}\b`),
		tokens:   map[Vocabulary]string{VocabularyTool: "[REDACTED-TOKEN]", VocabularyLog: "[TOKEN_REDACTED]"},
		accept:   hasLetterAndDigit,
	},
}

// BuiltinNames returns the built-in pattern names in application order.
func BuiltinNames() []string {
	names := make([]string, len(builtins))
	for i, b := range builtins {
		names[i] = b.name
	}
	return names
}

func builtinPatterns(v Vocabulary) []Pattern {
	out := make([]Pattern, len(builtins))
	for i, b := range builtins {
		out[i] = Pattern{
			Name:        b.name,
			Category:    b.category,
			Regex:       b.re,
			Replacement: b.tokens[v],
			accept:      b.accept,
		}
	}
	return out
}

// hasLetterAndDigit keeps the generic token pattern off plain words and
// long numbers.
func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
		if letter && digit {
			return true
		}
	}
	return false
}
