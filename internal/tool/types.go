// Package tool provides the tool registry, input validation, and dispatch
// layer, plus the built-in tool implementations.
package tool

import "context"

// Origin values for tool definitions.
const (
	OriginBuiltin = "builtin"
	// MCP origins are "mcp:<server>".
	originMCPPrefix = "mcp:"
)

// Definition describes a tool exposed to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Origin      string
}

// Builtin is a locally implemented tool.
type Builtin interface {
	// Name returns the globally unique tool name.
	Name() string

	// Description returns a brief description shown to the model.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() map[string]any

	// ReadOnly reports whether the tool has no side effects. Read-only tools
	// bypass the security mediator.
	ReadOnly() bool

	// Execute runs the tool. The returned string is the tool-result content;
	// a non-nil error produces an error tool result.
	Execute(ctx context.Context, params map[string]any, cwd string) (string, error)
}

// objectSchema builds a JSON Schema object with the given properties and
// required fields.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}
