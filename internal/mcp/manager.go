package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martydill/aixplosion/internal/tool"
)

// Manager owns the shared session table and keeps the tool registry in sync
// with session state. The registry sits above both the agent loop and this
// package, so tool-set changes are atomic and neither side holds a
// back-reference to the other.
type Manager struct {
	registry *tool.Registry

	mu       sync.Mutex
	sessions map[string]*Session
	configs  map[string]ServerConfig
}

// NewManager creates a manager bound to the given tool registry.
func NewManager(registry *tool.Registry) *Manager {
	return &Manager{
		registry: registry,
		sessions: make(map[string]*Session),
		configs:  make(map[string]ServerConfig),
	}
}

// SetConfigs replaces the known server configurations.
func (m *Manager) SetConfigs(configs []ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = make(map[string]ServerConfig, len(configs))
	for _, c := range configs {
		m.configs[c.Name] = c
	}
}

// AddConfig registers or replaces one server configuration.
func (m *Manager) AddConfig(c ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.Name] = c
}

// RemoveConfig forgets a server, disconnecting it first if needed.
func (m *Manager) RemoveConfig(name string) {
	m.Disconnect(name)
	m.mu.Lock()
	delete(m.configs, name)
	m.mu.Unlock()
}

// Config returns a server configuration by name.
func (m *Manager) Config(name string) (ServerConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[name]
	return c, ok
}

// Connect establishes a session to the named server and registers its tools.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.mu.Lock()
	config, ok := m.configs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("server not found: %s", name)
	}
	if !config.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("server %s is disabled", name)
	}
	if sess, ok := m.sessions[name]; ok && sess.State() == StateReady {
		m.mu.Unlock()
		return nil
	}
	sess := NewSession(config)
	sess.SetOnToolsChanged(m.syncTools)
	m.sessions[name] = sess
	m.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, name)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect tears down the named session and removes its tools.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	m.registry.RemoveServerTools(name)
	if !ok {
		return nil
	}
	return sess.Disconnect()
}

// DisconnectAll tears down every session.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for name, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		m.registry.RemoveServerTools(sess.Name())
		sess.Disconnect()
	}
}

// SetEnabled toggles a server. Disabling a connected server disconnects it
// immediately.
func (m *Manager) SetEnabled(name string, enabled bool) {
	m.mu.Lock()
	if c, ok := m.configs[name]; ok {
		c.Enabled = enabled
		m.configs[name] = c
	}
	m.mu.Unlock()

	if !enabled {
		m.Disconnect(name)
	}
}

// Session returns the live session for a server, if any.
func (m *Manager) Session(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	return sess, ok
}

// Status describes one configured server for display.
type Status struct {
	Name    string
	State   State
	Enabled bool
	Tools   int
}

// List returns the status of every configured server.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.configs))
	for name, config := range m.configs {
		st := Status{Name: name, State: StateDisconnected, Enabled: config.Enabled}
		if sess, ok := m.sessions[name]; ok {
			st.State = sess.State()
			st.Tools = len(sess.Tools())
		}
		out = append(out, st)
	}
	return out
}

// Call routes a tool call to the named server's session. It implements the
// dispatcher's MCPCaller contract.
func (m *Manager) Call(ctx context.Context, server, remoteName string, args map[string]any) (string, bool, error) {
	m.mu.Lock()
	sess, ok := m.sessions[server]
	m.mu.Unlock()

	if !ok {
		return "", false, fmt.Errorf("server %q is not connected", server)
	}
	return sess.Call(ctx, remoteName, args)
}

// syncTools reconciles a session's tool list into the registry. Broken
// sessions lose their tools.
func (m *Manager) syncTools(sess *Session) {
	name := sess.Name()
	m.registry.RemoveServerTools(name)

	if sess.State() == StateBroken {
		return
	}

	for _, t := range sess.Tools() {
		schema := parseInputSchema(t.InputSchema)
		m.registry.RegisterMCPTool(name, t.Name, t.Description, schema)
	}
}

// parseInputSchema decodes a tool's advertised schema, substituting the
// default empty object schema when missing or malformed.
func parseInputSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return DefaultInputSchema()
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return DefaultInputSchema()
	}
	return schema
}
