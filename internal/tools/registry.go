// Package tools implements the tool framework: a typed registry keyed
// by name, JSON-schema parameter validation, and a uniform execution
// wrapper that normalizes failures into structured envelopes the model
// can act on.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/observability"
	"github.com/tenex-chat/tenex/pkg/models"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 10 * time.Minute

// Tool is one callable capability. Execute returns the value placed in
// the success envelope, or an error; returning *Error controls the
// failure kind, any other error is treated as an execution failure.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds tools keyed by name and implements agent.ToolExecutor.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]registered
	timeout time.Duration
	logger  *observability.Logger
}

// RegistryOption adjusts registry behavior.
type RegistryOption func(*Registry)

// WithTimeout overrides the per-tool execution deadline.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	r := &Registry{
		tools:   make(map[string]registered),
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register compiles the tool's schema and adds it to the registry,
// replacing any tool with the same name.
func (r *Registry) Register(tool Tool) error {
	compiler := jsonschema.NewCompiler()
	url := "tool://" + tool.Name() + "/schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", tool.Name(), err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = registered{tool: tool, schema: schema}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry.tool, ok
}

// Specs implements agent.ToolExecutor. Order is stable by name.
func (r *Registry) Specs() []agent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]agent.ToolSpec, 0, len(r.tools))
	for _, entry := range r.tools {
		specs = append(specs, agent.ToolSpec{
			Name:        entry.tool.Name(),
			Description: entry.tool.Description(),
			Schema:      entry.tool.Schema(),
		})
	}
	sortSpecs(specs)
	return specs
}

func sortSpecs(specs []agent.ToolSpec) {
	for i := 1; i < len(specs); i++ {
		for j := i; j > 0 && specs[j].Name < specs[j-1].Name; j-- {
			specs[j], specs[j-1] = specs[j-1], specs[j]
		}
	}
}

// Execute implements agent.ToolExecutor. Failures never propagate as
// errors; they become envelope results with IsError set so the model
// sees them on the next round.
func (r *Registry) Execute(ctx context.Context, call *models.ToolCall) *models.ToolResult {
	r.mu.RLock()
	entry, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fail(call, &Error{
			Kind:    KindExecution,
			Tool:    call.Name,
			Message: "tool not found: " + call.Name,
		})
	}

	params := call.Input
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if verr := validate(entry.schema, params); verr != nil {
		return fail(call, verr)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, "tool panicked", "tool", call.Name, "panic", p)
				done <- outcome{err: &Error{
					Kind:    KindSystem,
					Tool:    call.Name,
					Message: fmt.Sprintf("tool panicked: %v", p),
				}}
			}
		}()
		value, err := entry.tool.Execute(ctx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return fail(call, classify(call.Name, ctx.Err()))
	case out := <-done:
		if out.err != nil {
			return fail(call, classify(call.Name, out.err))
		}
		return &models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    okResult(out.value),
		}
	}
}

func fail(call *models.ToolCall, e *Error) *models.ToolResult {
	return &models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    failResult(e),
		IsError:    true,
	}
}

// validate checks params against the compiled schema and converts the
// deepest validation cause into a field-level error.
func validate(schema *jsonschema.Schema, params json.RawMessage) *Error {
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return &Error{Kind: KindValidation, Message: "parameters are not valid JSON: " + err.Error()}
	}
	err := schema.Validate(decoded)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &Error{Kind: KindValidation, Message: err.Error()}
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &Error{
		Kind:    KindValidation,
		Field:   fieldFromPointer(leaf.InstanceLocation),
		Message: leaf.Message,
	}
}

// fieldFromPointer turns a JSON pointer like "/todos/0/id" into the
// dotted path "todos.0.id".
func fieldFromPointer(pointer string) string {
	trimmed := strings.TrimPrefix(pointer, "/")
	if trimmed == "" {
		return ""
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}
