// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package tool defines the tool interface, JSON-Schema-backed
// argument validation, and the registry the orchestrator offers to
// the model (spec §4.2).
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/humanjesse/LocalHarness-sub001/internal/csync"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
)

// RiskLevel is the default risk classification a tool advertises to
// the permission manager when no session grant or policy decides the
// outcome explicitly.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskModerate  RiskLevel = "moderate"
	RiskDangerous RiskLevel = "dangerous"
)

// Schema is the JSON Schema object advertised to the model for a
// tool's parameters, plus the raw document used for validation.
type Schema struct {
	raw     json.RawMessage
	compiled *jsonschema.Schema
}

// NewSchema compiles schemaJSON (a JSON Schema document) once at
// registration time so validation on the hot path never recompiles.
func NewSchema(name string, schemaJSON string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("tool: parse schema for %s: %w", name, err)
	}
	url := "mem://tool/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool: add schema resource for %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool: compile schema for %s: %w", name, err)
	}
	return &Schema{raw: json.RawMessage(schemaJSON), compiled: sch}, nil
}

// Validate checks args (already json.Unmarshal'd into interface{})
// against the compiled schema.
func (s *Schema) Validate(args any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	return s.compiled.Validate(args)
}

// RawJSON returns the schema document as advertised to the model.
func (s *Schema) RawJSON() json.RawMessage {
	if s == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return s.raw
}

// Metadata carries permission-relevant facts about a tool, consulted
// by the Permission Manager's policy engine (spec §4.3).
type Metadata struct {
	RequiredScopes []string
	DefaultRisk    RiskLevel
}

// Executor runs a tool's side effect. It must never panic; the
// registry recovers defensively around every call regardless.
type Executor func(ctx context.Context, args map[string]any) message.ToolResult

// Definition is one entry in the tool catalog.
type Definition struct {
	Name        string
	Description string
	Schema      *Schema
	Metadata    Metadata
	Run         Executor
}

// FunctionSchema is the {name, description, parameters} shape spec §6
// requires for every provider's "tools" payload.
type FunctionSchema struct {
	Type string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// Registry is the name -> Definition catalog (spec §4.2).
type Registry struct {
	defs *csync.Map[string, *Definition]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: csync.NewMap[string, *Definition]()}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def *Definition) {
	r.defs.Set(def.Name, def)
}

// Lookup returns a tool definition by name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	return r.defs.Get(name)
}

// ListSchemas renders every registered tool as the wire schema sent to
// the provider as the "tools" array.
func (r *Registry) ListSchemas() []FunctionSchema {
	out := make([]FunctionSchema, 0, r.defs.Len())
	for _, def := range r.defs.Values() {
		var fs FunctionSchema
		fs.Type = "function"
		fs.Function.Name = def.Name
		fs.Function.Description = def.Description
		fs.Function.Parameters = def.Schema.RawJSON()
		out = append(out, fs)
	}
	return out
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	out := make([]string, 0, r.defs.Len())
	for name := range r.defs.All() {
		out = append(out, name)
	}
	return out
}

// Filtered returns a new Registry containing only the named tools
// that exist in r. Used by the Agent Executor to build a sub-agent's
// filtered tool list (spec §4.8).
func (r *Registry) Filtered(names []string) *Registry {
	out := NewRegistry()
	for _, n := range names {
		if def, ok := r.defs.Get(n); ok {
			out.Register(def)
		}
	}
	return out
}

// Execute validates args against the tool's schema and runs its
// executor, never allowing a panic to escape (spec §4.2c).
func (r *Registry) Execute(ctx context.Context, name string, rawArgs string) (result message.ToolResult) {
	start := time.Now()
	def, ok := r.defs.Get(name)
	if !ok {
		return message.ToolResult{
			Success:         false,
			ErrorKind:       message.ErrNotFound,
			ErrorMessage:    fmt.Sprintf("unknown tool %q", name),
			CompletedAtUnix: time.Now().Unix(),
		}
	}

	var args map[string]any
	if rawArgs == "" {
		args = map[string]any{}
	} else if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return message.ToolResult{
			Success:         false,
			ErrorKind:       message.ErrParse,
			ErrorMessage:    fmt.Sprintf("invalid arguments for %s: %v", name, err),
			CompletedAtUnix: time.Now().Unix(),
		}
	}

	if def.Schema != nil {
		if err := def.Schema.Validate(map[string]any(args)); err != nil {
			return message.ToolResult{
				Success:         false,
				ErrorKind:       message.ErrValidationFailed,
				ErrorMessage:    err.Error(),
				CompletedAtUnix: time.Now().Unix(),
			}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = message.ToolResult{
				Success:         false,
				ErrorKind:       message.ErrInternal,
				ErrorMessage:    fmt.Sprintf("tool %s panicked: %v", name, rec),
				ExecutionTimeMS: time.Since(start).Milliseconds(),
				CompletedAtUnix: time.Now().Unix(),
			}
		}
	}()

	result = def.Run(ctx, args)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.DataSizeBytes = len(result.Data)
	result.CompletedAtUnix = time.Now().Unix()
	return result
}
