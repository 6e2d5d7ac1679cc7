package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/audit"
	"github.com/upb/maturity-gateway/services/contentpolicy"
	"github.com/upb/maturity-gateway/services/redaction"
	"github.com/upb/maturity-gateway/services/sandbox"
	"go.uber.org/zap"
)

// ErrorKind classifies a failed tool call for the HTTP layer.
type ErrorKind string

const (
	ErrorKindSecurity   ErrorKind = "security_violation"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindUpstream   ErrorKind = "upstream"
	ErrorKindInternal   ErrorKind = "internal"
)

// DefaultPreviewLength bounds the redacted payload preview stored in audit events.
const DefaultPreviewLength = 200

// AuditSink receives tool lifecycle events.
type AuditSink interface {
	LogToolOperationStart(opCtx models.OperationContext, details map[string]interface{}) error
	LogToolOperationComplete(opCtx models.OperationContext, outcome audit.Outcome) error
}

// Request carries the raw inputs of one tool call.
type Request struct {
	// Path is the caller-supplied file path, relative to the engagement root. Empty for non-file tools.
	Path string
	// Content is the payload written by the tool; its length is checked against the size limit.
	Content []byte
	// Text is a textual payload; only its redacted preview is audited.
	Text string
	// CheckSize checks the size of the existing file at Path.
	CheckSize bool
}

// Validated holds inputs that passed sandbox and policy checks.
type Validated struct {
	Path    string
	Root    string
	Content []byte
	Text    string
}

// RelPath returns Path relative to Root using forward slashes.
func (v Validated) RelPath() string {
	if v.Path == "" {
		return ""
	}
	rel, err := filepath.Rel(v.Root, v.Path)
	if err != nil {
		return filepath.Base(v.Path)
	}
	return filepath.ToSlash(rel)
}

// Func is the tool body run after validation.
type Func func(ctx context.Context, v Validated) (map[string]interface{}, error)

// Result is the outcome of Invoke. Exactly one of Data or Error is set.
type Result struct {
	Success       bool                   `json:"success"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorType     string                 `json:"error_type,omitempty"`
	ErrorKind     ErrorKind              `json:"error_kind,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}

// HTTPStatus maps the result to a response status code.
func (r Result) HTTPStatus() int {
	if r.Success {
		return http.StatusOK
	}
	switch r.ErrorKind {
	case ErrorKindSecurity:
		return http.StatusForbidden
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Invoker wraps tool bodies with sandbox resolution, content policy checks,
// audit events and error classification.
type Invoker struct {
	roots         *sandbox.Roots
	policies      *contentpolicy.Set
	audit         AuditSink
	metrics       *observability.Metrics
	logger        *zap.Logger
	previewLength int
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMetrics records tool metrics.
func WithMetrics(m *observability.Metrics) InvokerOption {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// WithPreviewLength sets the audited preview length.
func WithPreviewLength(n int) InvokerOption {
	return func(i *Invoker) {
		if n > 0 {
			i.previewLength = n
		}
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(roots *sandbox.Roots, policies *contentpolicy.Set, sink AuditSink, logger *zap.Logger, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		roots:         roots,
		policies:      policies,
		audit:         sink,
		logger:        logger,
		previewLength: DefaultPreviewLength,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke validates req, runs fn and reports the outcome. It never panics and
// never returns an error; failures are described by the Result.
func (i *Invoker) Invoke(ctx context.Context, opCtx models.OperationContext, req Request, fn Func) Result {
	start := time.Now()

	v, err := i.validate(opCtx, req)
	if err != nil {
		return i.fail(opCtx, start, err)
	}

	i.logStart(opCtx, req)

	data, err := call(ctx, fn, v)
	if err != nil {
		return i.fail(opCtx, start, err)
	}

	duration := time.Since(start)
	i.complete(opCtx, audit.Outcome{
		Success:  true,
		Duration: duration,
		Metadata: summarize(data),
	})
	i.metrics.ObserveTool(opCtx.ToolName(), true, duration)
	i.logger.Info("tool operation completed", append(opCtx.ZapFields(), zap.Duration("duration", duration))...)

	return Result{Success: true, Data: data, CorrelationID: opCtx.CorrelationID()}
}

// Reject reports a call that failed before reaching Invoke, such as an
// unknown tool or a payload that does not match its schema.
func (i *Invoker) Reject(opCtx models.OperationContext, err error) Result {
	return i.fail(opCtx, time.Now(), err)
}

func (i *Invoker) validate(opCtx models.OperationContext, req Request) (Validated, error) {
	v := Validated{Content: req.Content, Text: req.Text}

	root, err := i.roots.Ensure(opCtx.EngagementID())
	if err != nil {
		return v, err
	}
	v.Root = root

	if req.Path == "" {
		return v, nil
	}

	resolved, err := sandbox.Resolve(req.Path, root)
	if err != nil {
		return v, i.withPath(err, req.Path)
	}
	v.Path = resolved
	// The root's own name is the engagement id, not a user file name.
	if resolved == root {
		return v, nil
	}

	policy := i.policies.For(opCtx.ToolName())
	size := int64(-1)
	if req.Content != nil {
		size = int64(len(req.Content))
	}
	if err := policy.Check(resolved, size); err != nil {
		return v, i.withPath(err, req.Path)
	}
	if req.CheckSize {
		if err := contentpolicy.CheckFileSize(resolved, policy.MaxSizeMB()); err != nil {
			return v, i.withPath(err, req.Path)
		}
	}
	return v, nil
}

// withPath attaches the requested path to a domain error after log redaction.
func (i *Invoker) withPath(err error, path string) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		domainErr.WithDetail("path", redaction.LogRedactor().Preview(path, i.previewLength))
	}
	return err
}

func (i *Invoker) logStart(opCtx models.OperationContext, req Request) {
	details := map[string]interface{}{}
	if req.Path != "" {
		details["path"] = redaction.LogRedactor().Preview(req.Path, i.previewLength)
	}
	if req.Content != nil {
		details["content_bytes"] = len(req.Content)
	}
	if preview := i.preview(req); preview != "" {
		details["preview"] = preview
	}

	if err := i.audit.LogToolOperationStart(opCtx, details); err != nil {
		i.auditFailed(opCtx, err)
	}
	i.logger.Debug("tool operation started", opCtx.ZapFields()...)
}

func (i *Invoker) preview(req Request) string {
	text := req.Text
	if text == "" && len(req.Content) > 0 {
		if !utf8.Valid(req.Content) {
			return fmt.Sprintf("<binary %d bytes>", len(req.Content))
		}
		text = string(req.Content)
	}
	if text == "" {
		return ""
	}
	return redaction.LogRedactor().Preview(text, i.previewLength)
}

func (i *Invoker) fail(opCtx models.OperationContext, start time.Time, err error) Result {
	duration := time.Since(start)
	kind := classify(err)
	errType := errorTypeName(err)
	message := errorMessage(err)

	i.complete(opCtx, audit.Outcome{
		Success:      false,
		Duration:     duration,
		ErrorType:    errType,
		ErrorMessage: redaction.LogRedactor().Preview(message, i.previewLength),
	})
	i.metrics.ObserveTool(opCtx.ToolName(), false, duration)

	fields := append(opCtx.ZapFields(),
		zap.String("error_type", errType),
		redaction.ZapField("error", err.Error()))
	if kind == ErrorKindInternal || kind == ErrorKindUpstream {
		i.logger.Error("tool operation failed", fields...)
	} else {
		i.logger.Warn("tool operation rejected", fields...)
	}

	result := Result{
		Success:       false,
		Error:         message,
		ErrorType:     errType,
		ErrorKind:     kind,
		CorrelationID: opCtx.CorrelationID(),
	}
	if kind == ErrorKindInternal {
		result.Error = "internal error"
	}
	if details := services.GetErrorDetails(err); len(details) > 0 && kind != ErrorKindInternal {
		result.Details = details
	}
	return result
}

func (i *Invoker) complete(opCtx models.OperationContext, outcome audit.Outcome) {
	if err := i.audit.LogToolOperationComplete(opCtx, outcome); err != nil {
		i.auditFailed(opCtx, err)
	}
}

func (i *Invoker) auditFailed(opCtx models.OperationContext, err error) {
	i.metrics.AuditDropped()
	i.logger.Warn("audit event not recorded", append(opCtx.ZapFields(), zap.Error(err))...)
}

// call runs fn, converting a panic into an internal error.
func call(ctx context.Context, fn Func, v Validated) (data map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = services.WrapInternal("tool panicked", fmt.Errorf("%v", r))
		}
	}()
	data, err = fn(ctx, v)
	if err == nil && data == nil {
		data = map[string]interface{}{}
	}
	return data, err
}

func classify(err error) ErrorKind {
	switch {
	case services.IsSecurityError(err):
		return ErrorKindSecurity
	case services.IsNotFoundError(err), errors.Is(err, os.ErrNotExist):
		return ErrorKindNotFound
	case services.IsValidationError(err):
		return ErrorKindValidation
	case services.IsExternalError(err):
		return ErrorKindUpstream
	default:
		return ErrorKindInternal
	}
}

func errorTypeName(err error) string {
	if t := services.GetErrorType(err); t != "" {
		return string(t)
	}
	if errors.Is(err, os.ErrNotExist) {
		return string(services.ErrorTypeNotFound)
	}
	return string(services.ErrorTypeInternal)
}

func errorMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// summarize reduces a result to audit metadata: scalars are kept, strings and
// collections become lengths.
func summarize(data map[string]interface{}) map[string]interface{} {
	meta := make(map[string]interface{}, len(data))
	for k, val := range data {
		switch x := val.(type) {
		case string:
			meta[k+"_length"] = len(x)
		case []byte:
			meta[k+"_bytes"] = len(x)
		case []interface{}:
			meta[k+"_count"] = len(x)
		case []map[string]interface{}:
			meta[k+"_count"] = len(x)
		case []string:
			meta[k+"_count"] = len(x)
		case map[string]interface{}:
			meta[k+"_keys"] = len(x)
		case bool, int, int64, float64:
			meta[k] = x
		}
	}
	return meta
}
