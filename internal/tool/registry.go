package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// handlerKind tags the handler union: a tool is either a builtin function or
// a named MCP server route.
type handlerKind int

const (
	kindBuiltin handlerKind = iota
	kindMCP
)

// entry is a registered tool: its definition plus the handler route.
type entry struct {
	def      Definition
	kind     handlerKind
	builtin  Builtin
	server   string // MCP server name
	remote   string // tool name on the MCP server, before prefixing
	readOnly bool
	schema   *jsonschema.Schema // compiled input schema, nil if uncompilable
}

// Registry is the process-wide mapping from tool name to handler. Built-ins
// are registered at startup; MCP tools are added and removed as sessions
// change state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// RegisterBuiltin adds a built-in tool.
func (r *Registry) RegisterBuiltin(b Builtin) {
	schema := b.Schema()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[b.Name()] = &entry{
		def: Definition{
			Name:        b.Name(),
			Description: b.Description(),
			InputSchema: schema,
			Origin:      OriginBuiltin,
		},
		kind:     kindBuiltin,
		builtin:  b,
		readOnly: b.ReadOnly(),
		schema:   compileSchema(schema),
	}
}

// RegisterMCPTool adds a tool from an MCP server. The registered name is
// prefixed with "mcp_<server>_" so server tools can never collide with
// built-ins. Names from two servers can still coincide when a server or tool
// name contains an underscore; the later registration then replaces the
// earlier one.
func (r *Registry) RegisterMCPTool(server, remoteName, description string, inputSchema map[string]any) string {
	name := MCPToolName(server, remoteName)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{
		def: Definition{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
			Origin:      originMCPPrefix + server,
		},
		kind:   kindMCP,
		server: server,
		remote: remoteName,
		schema: compileSchema(inputSchema),
	}
	return name
}

// RemoveServerTools drops all tools registered for the given MCP server.
func (r *Registry) RemoveServerTools(server string) {
	origin := originMCPPrefix + server
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if e.def.Origin == origin {
			delete(r.entries, name)
		}
	}
}

// Definitions returns a stable snapshot of all registered tool definitions,
// optionally excluding the given names.
func (r *Registry) Definitions(exclude map[string]bool) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for name, e := range r.entries {
		if exclude[name] {
			continue
		}
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// get looks up a tool entry by name.
func (r *Registry) get(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// IsReadOnly reports whether a registered tool is read-only. Unknown tools
// report false.
func (r *Registry) IsReadOnly(name string) bool {
	e, ok := r.get(name)
	return ok && e.readOnly
}

// MCPToolName builds the registered name for a server tool.
func MCPToolName(server, remoteName string) string {
	return fmt.Sprintf("mcp_%s_%s", server, remoteName)
}

// compileSchema compiles a JSON Schema map for input validation. Returns nil
// if the schema cannot be compiled; validation is then skipped for the tool.
func compileSchema(schema map[string]any) *jsonschema.Schema {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	compiled, err := jsonschema.CompileString("schema.json", string(data))
	if err != nil {
		return nil
	}
	return compiled
}

// validateInput checks params against the entry's compiled schema.
func (e *entry) validateInput(params map[string]any) error {
	if e.schema == nil {
		return nil
	}
	// jsonschema validates generic values; params is already generic.
	if err := e.schema.Validate(anyMap(params)); err != nil {
		return fmt.Errorf("invalid input for %s: %s", e.def.Name, shortValidationError(err))
	}
	return nil
}

func anyMap(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// shortValidationError collapses a validation error to its first line.
func shortValidationError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx > 0 {
		msg = msg[:idx]
	}
	return msg
}
