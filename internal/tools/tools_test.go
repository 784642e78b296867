package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
)

func echoHandler(ctx context.Context, input json.RawMessage) domain.ToolResult {
	return domain.ToolResult{Success: true, Data: input}
}

func TestRegistry_LookupReturnsRegisteredDefinition(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Definition{Name: "echo", Handler: echoHandler})

	def, ok := reg.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, Ident("echo"), def.Name)
}

func TestRegistry_LookupMissingToolReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup("missing")
	require.False(t, ok)
}

func TestRegistry_RegisterReplacesExistingDefinition(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Definition{Name: "echo", Description: "first"})
	reg.Register(Definition{Name: "echo", Description: "second"})

	def, ok := reg.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "second", def.Description)
}

func TestRegistry_ValidateAcceptsAnyInputWithoutSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Definition{Name: "echo", Handler: echoHandler})

	err := reg.Validate("echo", json.RawMessage(`{"anything": 1}`))
	require.NoError(t, err)
}

func TestRegistry_ValidateUnknownToolIsNoop(t *testing.T) {
	reg := NewRegistry()
	err := reg.Validate("missing", json.RawMessage(`{}`))
	require.NoError(t, err)
}

func TestRegistry_ValidateRejectsMalformedJSON(t *testing.T) {
	reg := NewRegistry()
	schema, err := CompileSchema("write_file", []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`))
	require.NoError(t, err)
	reg.Register(Definition{Name: "write_file", InputSchema: schema, Handler: echoHandler})

	err = reg.Validate("write_file", json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestRegistry_ValidateRejectsInputFailingSchema(t *testing.T) {
	reg := NewRegistry()
	schema, err := CompileSchema("write_file", []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`))
	require.NoError(t, err)
	reg.Register(Definition{Name: "write_file", InputSchema: schema, Handler: echoHandler})

	err = reg.Validate("write_file", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestRegistry_ValidateAcceptsInputSatisfyingSchema(t *testing.T) {
	reg := NewRegistry()
	schema, err := CompileSchema("write_file", []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`))
	require.NoError(t, err)
	reg.Register(Definition{Name: "write_file", InputSchema: schema, Handler: echoHandler})

	err = reg.Validate("write_file", json.RawMessage(`{"path":"main.go"}`))
	require.NoError(t, err)
}

func TestCompileSchema_ReturnsErrorForInvalidSchemaDocument(t *testing.T) {
	_, err := CompileSchema("broken", []byte(`{"type": "not-a-real-type"}`))
	require.Error(t, err)
}
