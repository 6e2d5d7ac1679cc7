package redaction

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// RedactStructured walks maps and slices and redacts every string leaf. The
// returned value has the same shape as value; non-string leaves are copied
// as is.
func (r *Redactor) RedactStructured(value any) (any, map[string]int) {
	counts := make(map[string]int)
	return r.walk(value, counts), counts
}

func (r *Redactor) walk(value any, counts map[string]int) any {
	switch typed := value.(type) {
	case string:
		return r.leaf(typed, counts)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			out[key] = r.walk(val, counts)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			out[key] = r.leaf(val, counts)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = r.walk(val, counts)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		for i, val := range typed {
			out[i] = r.leaf(val, counts)
		}
		return out
	default:
		return value
	}
}

func (r *Redactor) leaf(s string, counts map[string]int) string {
	res := r.Redact(s)
	mergeCounts(counts, res.Counts)
	return res.Text
}

func mergeCounts(dst, src map[string]int) {
	for name, n := range src {
		dst[name] += n
	}
}

// Report summarises the matches of one or more redaction passes.
type Report struct {
	TotalRedactions   int            `json:"total_redactions"`
	RedactionCounts   map[string]int `json:"redaction_counts"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
	PatternsUsed      []string       `json:"patterns_used"`
	Timestamp         time.Time      `json:"timestamp"`
}

// BuildReport aggregates per-pattern counts into a Report.
func (r *Redactor) BuildReport(counts map[string]int) Report {
	report := Report{
		RedactionCounts:   make(map[string]int, len(counts)),
		CategoryBreakdown: make(map[string]int),
		PatternsUsed:      []string{},
		Timestamp:         time.Now().UTC(),
	}
	for _, p := range r.patterns {
		n := counts[p.Name]
		if n <= 0 {
			continue
		}
		report.RedactionCounts[p.Name] = n
		report.CategoryBreakdown[p.Category] += n
		report.TotalRedactions += n
		report.PatternsUsed = append(report.PatternsUsed, p.Name)
	}
	sort.Strings(report.PatternsUsed)
	return report
}

var logRedactor = MustNew(VocabularyLog)

// ZapField returns a string field whose value went through the log
// vocabulary redactor.
func ZapField(key, value string) zap.Field {
	return zap.String(key, logRedactor.Redact(value).Text)
}

// LogRedactor returns the shared log vocabulary redactor.
func LogRedactor() *Redactor {
	return logRedactor
}
