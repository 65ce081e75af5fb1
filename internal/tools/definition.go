// Package tools implements the tool contract, registry, executor, and
// result sanitizer that the agent loop depends on.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool argument JSON (1MB).
	MaxToolArgsSize = 1 << 20
)

// Response is the output of a successful tool run. Data is tool-specific;
// Explainability is a free-form audit annotation that is sanitized before
// it can reach a client.
type Response struct {
	Data           any `json:"data"`
	Explainability any `json:"explainability,omitempty"`
}

// RunFunc executes a tool with validated arguments.
type RunFunc func(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*Response, error)

// Definition describes a single tool: its name, whether it mutates state,
// the JSON schema its arguments must satisfy, and the run function.
//
// Validation is pure and fails fast; Run may perform side effects only when
// Writes is true. That separation lets the executor gate writes before any
// business logic executes.
type Definition struct {
	name        string
	description string
	writes      bool
	rawSchema   json.RawMessage
	schema      *jsonschema.Schema
	run         RunFunc
}

// NewDefinition builds a tool definition, compiling the argument schema once.
func NewDefinition(name, description string, writes bool, schema json.RawMessage, run RunFunc) (*Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return nil, fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if run == nil {
		return nil, fmt.Errorf("tool %s: run function is required", name)
	}
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid argument schema: %w", name, err)
	}
	return &Definition{
		name:        name,
		description: description,
		writes:      writes,
		rawSchema:   schema,
		schema:      compiled,
		run:         run,
	}, nil
}

// Name returns the tool name used for model function calling.
func (d *Definition) Name() string { return d.name }

// Description returns the natural language description shown to the model.
func (d *Definition) Description() string { return d.description }

// Writes reports whether running this tool mutates state.
func (d *Definition) Writes() bool { return d.writes }

// Schema returns the JSON schema for the tool's arguments.
func (d *Definition) Schema() json.RawMessage { return d.rawSchema }

// ValidateArgs checks raw arguments against the compiled schema.
// It performs no side effects.
func (d *Definition) ValidateArgs(raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if len(raw) > MaxToolArgsSize {
		return fmt.Errorf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}
	if err := d.schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}

// Run executes the tool. Callers must validate arguments first.
func (d *Definition) Run(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*Response, error) {
	return d.run(ctx, args, tc)
}

// Registry is an immutable name-to-definition mapping. It is built once at
// process start and is safe for concurrent lookup without locking.
type Registry struct {
	tools map[string]*Definition
}

// BuildRegistry constructs a registry from the given definitions. Duplicate
// names are rejected; there is no runtime add or remove.
func BuildRegistry(defs []*Definition) (*Registry, error) {
	tools := make(map[string]*Definition, len(defs))
	for _, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("nil tool definition")
		}
		if _, exists := tools[def.name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", def.name)
		}
		tools[def.name] = def
	}
	return &Registry{tools: tools}, nil
}

// Lookup returns a tool by name and whether it was found.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// Definitions returns all registered tools sorted by name, for passing to
// the model backend as the tool schema.
func (r *Registry) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].name < defs[j].name })
	return defs
}
