// Package tools defines the fixed set of order and email operations the
// complaint agent may invoke, with schema-checked arguments.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Param is one named string parameter of a tool.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Args holds validated tool arguments.
type Args map[string]string

// Handler executes a tool call.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool describes a callable tool.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler

	schema *jsonschema.Schema
}

// Descriptor is the model-facing view of a tool.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
}

// Registry holds available tools in registration order.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names and invalid schemas are rejected.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is nil", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	schema, err := compileSchema(t.Name, t.Params)
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}
	t.schema = schema
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Resolve returns the named tool or *ErrToolUnavailable.
func (r *Registry) Resolve(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// Describe returns every tool in registration order.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Params:      append([]Param(nil), t.Params...),
		})
	}
	return out
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Validate checks raw model-authored arguments against the tool's
// schema and returns them as Args.
func (r *Registry) Validate(name string, raw map[string]any) (Args, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := t.schema.Validate(raw); err != nil {
		return nil, &ToolInputError{Tool: name, Reasons: schemaReasons(err)}
	}
	args := make(Args, len(raw))
	for k, v := range raw {
		args[k] = v.(string)
	}
	return args, nil
}

// Execute runs a tool with validated arguments. Handler failures are
// wrapped in *ToolExecutionError unless they are already input errors.
func (r *Registry) Execute(ctx context.Context, name string, args Args) (string, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	out, err := t.Handler(ctx, args)
	if err != nil {
		var in *ToolInputError
		if errors.As(err, &in) {
			return "", err
		}
		return "", &ToolExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

// Schema returns the JSON Schema for a parameter list: an object of
// string properties with no additional properties allowed.
func Schema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func compileSchema(name string, params []Param) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(Schema(params))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://charmbot.local/tools/%s.schema.json", name)
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// schemaReasons flattens a validation error into its leaf messages.
func schemaReasons(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			msg := v.Message
			if v.InstanceLocation != "" {
				msg = v.InstanceLocation + ": " + msg
			}
			out = append(out, msg)
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
