package store

import (
	"encoding/json"
	"fmt"
)

// PermissionRule is a persisted allow/deny entry for the security mediator.
// Patterns match a command string verbatim, or with a trailing "*" wildcard
// after the base command word.
type PermissionRule struct {
	Pattern  string
	Decision string // "allow" or "deny"
	Scope    string // "session" or "persistent"
}

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"

	ScopeSession    = "session"
	ScopePersistent = "persistent"
)

// AddPermissionRule persists a rule. Adding the same rule twice is a no-op.
func (s *Store) AddPermissionRule(r PermissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Scope == "" {
		r.Scope = ScopePersistent
	}
	return withRetry(func() error {
		_, err := s.global.Exec(
			"INSERT OR IGNORE INTO permission_rules (pattern, decision, scope) VALUES (?, ?, ?)",
			r.Pattern, r.Decision, r.Scope,
		)
		return err
	})
}

// RemovePermissionRule deletes all rules with the given pattern.
func (s *Store) RemovePermissionRule(pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.global.Exec("DELETE FROM permission_rules WHERE pattern = ?", pattern)
		return err
	})
}

// PermissionRules returns all persisted rules.
func (s *Store) PermissionRules() ([]PermissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.global.Query("SELECT pattern, decision, scope FROM permission_rules ORDER BY pattern")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []PermissionRule
	for rows.Next() {
		var r PermissionRule
		if err := rows.Scan(&r.Pattern, &r.Decision, &r.Scope); err != nil {
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// MCPServerRecord is a persisted MCP server definition. Exactly one of
// Command/URL is populated depending on the transport.
type MCPServerRecord struct {
	Name      string
	Transport string // "stdio" or "ws"
	Command   string
	Args      []string
	URL       string
	Env       map[string]string
	Enabled   bool
}

// SaveMCPServer inserts or replaces an MCP server definition.
func (s *Store) SaveMCPServer(rec MCPServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	argsJSON, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	env := rec.Env
	if env == nil {
		env = map[string]string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode env: %w", err)
	}

	return withRetry(func() error {
		_, err := s.global.Exec(
			`INSERT OR REPLACE INTO mcp_servers (name, transport, command, args_json, url, env_json, enabled)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Name, rec.Transport, rec.Command, string(argsJSON), rec.URL, string(envJSON), boolToInt(rec.Enabled),
		)
		return err
	})
}

// RemoveMCPServer deletes an MCP server definition.
func (s *Store) RemoveMCPServer(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.global.Exec("DELETE FROM mcp_servers WHERE name = ?", name)
		return err
	})
}

// SetMCPServerEnabled toggles the enabled flag of a server definition.
func (s *Store) SetMCPServerEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.global.Exec("UPDATE mcp_servers SET enabled = ? WHERE name = ?", boolToInt(enabled), name)
		return err
	})
}

// MCPServers returns all persisted MCP server definitions.
func (s *Store) MCPServers() ([]MCPServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.global.Query(
		"SELECT name, transport, command, args_json, url, env_json, enabled FROM mcp_servers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MCPServerRecord
	for rows.Next() {
		var rec MCPServerRecord
		var argsJSON, envJSON string
		var enabled int
		if err := rows.Scan(&rec.Name, &rec.Transport, &rec.Command, &argsJSON, &rec.URL, &envJSON, &enabled); err != nil {
			continue
		}
		rec.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
			rec.Args = nil
		}
		if err := json.Unmarshal([]byte(envJSON), &rec.Env); err != nil {
			rec.Env = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AgentRecord is a persisted sub-agent profile.
type AgentRecord struct {
	Name         string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	AllowedTools []string
	DeniedTools  []string
}

// SaveAgent inserts or replaces a sub-agent profile.
func (s *Store) SaveAgent(rec AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowedJSON, err := json.Marshal(emptyIfNil(rec.AllowedTools))
	if err != nil {
		return err
	}
	deniedJSON, err := json.Marshal(emptyIfNil(rec.DeniedTools))
	if err != nil {
		return err
	}

	return withRetry(func() error {
		_, err := s.global.Exec(
			`INSERT OR REPLACE INTO agents (name, model, temperature, max_tokens, system_prompt, allowed_tools_json, denied_tools_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Name, rec.Model, rec.Temperature, rec.MaxTokens, rec.SystemPrompt,
			string(allowedJSON), string(deniedJSON),
		)
		return err
	})
}

// GetAgent loads a sub-agent profile by name.
func (s *Store) GetAgent(name string) (*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec AgentRecord
	var allowedJSON, deniedJSON string
	err := s.global.QueryRow(
		`SELECT name, model, temperature, max_tokens, system_prompt, allowed_tools_json, denied_tools_json
		 FROM agents WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.Model, &rec.Temperature, &rec.MaxTokens, &rec.SystemPrompt, &allowedJSON, &deniedJSON)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s", name)
	}
	json.Unmarshal([]byte(allowedJSON), &rec.AllowedTools)
	json.Unmarshal([]byte(deniedJSON), &rec.DeniedTools)
	return &rec, nil
}

// ListAgents returns all sub-agent profiles.
func (s *Store) ListAgents() ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.global.Query(
		`SELECT name, model, temperature, max_tokens, system_prompt, allowed_tools_json, denied_tools_json
		 FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		var rec AgentRecord
		var allowedJSON, deniedJSON string
		if err := rows.Scan(&rec.Name, &rec.Model, &rec.Temperature, &rec.MaxTokens,
			&rec.SystemPrompt, &allowedJSON, &deniedJSON); err != nil {
			continue
		}
		json.Unmarshal([]byte(allowedJSON), &rec.AllowedTools)
		json.Unmarshal([]byte(deniedJSON), &rec.DeniedTools)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteAgent removes a sub-agent profile.
func (s *Store) DeleteAgent(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.global.Exec("DELETE FROM agents WHERE name = ?", name)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
