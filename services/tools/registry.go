package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services"
	"go.uber.org/zap"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string
	Description string
	Operation   string
	// Schema is the JSON Schema the arguments must satisfy.
	Schema string
	// Prepare decodes schema-valid arguments into a guarded request and its body.
	Prepare func(args json.RawMessage) (Request, Func, error)
}

// Descriptor is the public view of a registered tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

type registeredTool struct {
	Tool
	schema *jsonschema.Schema
}

// Registry dispatches tool calls by name through an Invoker.
type Registry struct {
	invoker *Invoker
	logger  *zap.Logger

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry(invoker *Invoker, logger *zap.Logger) *Registry {
	return &Registry{
		invoker: invoker,
		logger:  logger,
		tools:   make(map[string]*registeredTool),
	}
}

// Register compiles the tool's schema and adds it.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Prepare == nil {
		return fmt.Errorf("tool requires a name and a prepare function")
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(t.Schema)))
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema document: %w", t.Name, err)
	}
	c := jsonschema.NewCompiler()
	url := t.Name + ".json"
	if err := c.AddResource(url, schemaDoc); err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: schema compile error: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = &registeredTool{Tool: t, schema: compiled}
	r.logger.Debug("tool registered", zap.String("tool", t.Name))
	return nil
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      json.RawMessage(t.Schema),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Call validates args against the tool's schema and invokes it.
func (r *Registry) Call(ctx context.Context, opCtx models.OperationContext, name string, args json.RawMessage) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	opCtx = opCtx.WithTool(name)
	if !ok {
		return r.invoker.Reject(opCtx, services.NewNotFoundError(fmt.Sprintf("unknown tool %q", name), nil))
	}
	opCtx = opCtx.WithOperation(t.Operation)

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return r.invoker.Reject(opCtx, services.NewValidationError("arguments are not valid JSON", err))
	}
	if err := t.schema.Validate(instance); err != nil {
		return r.invoker.Reject(opCtx, services.NewValidationError(fmt.Sprintf("invalid arguments: %v", err), nil))
	}

	req, fn, err := t.Prepare(args)
	if err != nil {
		return r.invoker.Reject(opCtx, err)
	}
	return r.invoker.Invoke(ctx, opCtx, req, fn)
}

// decodeArgs unmarshals schema-valid arguments into dst.
func decodeArgs(args json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return services.NewValidationError("invalid arguments", err)
	}
	return nil
}
