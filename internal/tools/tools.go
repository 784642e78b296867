// Package tools defines the tool registry: a mapping from tool name to
// handler, shared and immutable for the duration of a run.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"forge.dev/forge/internal/domain"
)

// Ident is the strong type for a tool name, avoiding free-form strings
// at API boundaries.
type Ident string

// Handler is a tool implementation: a pure function from input and
// context to a result. Handlers must be idempotent with respect to
// repeated dry-run invocations when Success is false.
type Handler func(ctx context.Context, input json.RawMessage) domain.ToolResult

// Definition describes one registered tool: its handler and the JSON
// Schema its input must validate against before dispatch.
type Definition struct {
	Name        Ident
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// Registry maps tool name to Definition. Effectively immutable after
// construction: Register is expected to run during setup, never
// concurrently with Lookup/Validate.
type Registry struct {
	mu    sync.RWMutex
	specs map[Ident]Definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[Ident]Definition)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[def.Name] = def
}

// Lookup returns the definition for name, if registered.
func (r *Registry) Lookup(name Ident) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.specs[name]
	return def, ok
}

// Validate checks input against name's registered JSON Schema, if any. A
// tool with no schema accepts any input. The tool executor calls it for
// every call before invoking the handler.
func (r *Registry) Validate(name Ident, input json.RawMessage) error {
	def, ok := r.Lookup(name)
	if !ok || def.InputSchema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("tools: %s: invalid JSON input: %w", name, err)
	}
	if err := def.InputSchema.Validate(v); err != nil {
		return fmt.Errorf("tools: %s: schema validation failed: %w", name, err)
	}
	return nil
}

// CompileSchema compiles a raw JSON Schema document (as produced by a tool
// author or an oracle.ToolDefinition.InputSchema) into a *jsonschema.Schema
// usable by Validate.
func CompileSchema(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, mustUnmarshal(schemaJSON)); err != nil {
		return nil, fmt.Errorf("tools: compiling schema %s: %w", name, err)
	}
	return c.Compile(name)
}

func mustUnmarshal(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		// CompileSchema's caller controls the schema's provenance (tool
		// authors at registration time); a malformed literal here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("tools: invalid schema literal: %v", err))
	}
	return v
}
