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
package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
)

func echoDef(t *testing.T) *Definition {
	t.Helper()
	schema, err := NewSchema("echo", `{
		"type":"object",
		"properties":{"text":{"type":"string"}},
		"required":["text"]
	}`)
	require.NoError(t, err)
	return &Definition{
		Name:        "echo",
		Description: "echoes text back",
		Schema:      schema,
		Metadata:    Metadata{DefaultRisk: RiskSafe},
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			return message.ToolResult{Success: true, Data: args["text"].(string)}
		},
	}
}

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	def := echoDef(t)
	r.Register(def)

	got, ok := r.Lookup("echo")
	assert.True(t, ok)
	assert.Equal(t, def, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryListSchemasShape(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))

	schemas := r.ListSchemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, "function", schemas[0].Type)
	assert.Equal(t, "echo", schemas[0].Function.Name)
	assert.Contains(t, string(schemas[0].Function.Parameters), "text")
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistryFiltered(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))
	r.Register(&Definition{Name: "other", Run: func(ctx context.Context, args map[string]any) message.ToolResult {
		return message.ToolResult{Success: true}
	}})

	filtered := r.Filtered([]string{"echo", "nonexistent"})
	assert.Equal(t, []string{"echo"}, filtered.Names())
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "missing", "{}")
	assert.False(t, res.Success)
	assert.Equal(t, message.ErrNotFound, res.ErrorKind)
}

func TestExecuteMalformedArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))
	res := r.Execute(context.Background(), "echo", "{not json")
	assert.False(t, res.Success)
	assert.Equal(t, message.ErrParse, res.ErrorKind)
}

func TestExecuteSchemaValidationFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))
	res := r.Execute(context.Background(), "echo", "{}")
	assert.False(t, res.Success)
	assert.Equal(t, message.ErrValidationFailed, res.ErrorKind)
}

func TestExecuteSuccessPopulatesMetrics(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef(t))
	res := r.Execute(context.Background(), "echo", `{"text":"hi"}`)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Data)
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
	assert.Equal(t, len("hi"), res.DataSizeBytes)
	assert.NotZero(t, res.CompletedAtUnix)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&Definition{
		Name: "boom",
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			panic("kaboom")
		},
	})
	res := r.Execute(context.Background(), "boom", "{}")
	assert.False(t, res.Success)
	assert.Equal(t, message.ErrInternal, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "kaboom")
}

func TestExecuteEmptyArgsDefaultsToEmptyObject(t *testing.T) {
	r := NewRegistry()
	r.Register(&Definition{
		Name: "noop",
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			return message.ToolResult{Success: true, Data: "ok"}
		},
	})
	res := r.Execute(context.Background(), "noop", "")
	assert.True(t, res.Success)
}

func TestSchemaRawJSONNilSchemaFallback(t *testing.T) {
	var s *Schema
	assert.Contains(t, string(s.RawJSON()), "object")
}

func TestNewSchemaInvalidDocument(t *testing.T) {
	_, err := NewSchema("bad", `{not valid json`)
	assert.Error(t, err)
}
