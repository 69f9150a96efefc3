// Package subagent provides named profiles that override model, prompt, and
// tool allow/deny lists for a conversation. Profiles come from the global
// store or from YAML definition files.
package subagent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martydill/aixplosion/internal/store"
)

// Profile is a sub-agent definition.
type Profile struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model,omitempty"`
	Temperature  float64  `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max-tokens,omitempty"`
	SystemPrompt string   `yaml:"system-prompt,omitempty"`
	AllowedTools []string `yaml:"allowed-tools,omitempty"`
	DeniedTools  []string `yaml:"denied-tools,omitempty"`
}

// FromRecord converts a store record into a profile.
func FromRecord(rec *store.AgentRecord) *Profile {
	return &Profile{
		Name:         rec.Name,
		Model:        rec.Model,
		Temperature:  rec.Temperature,
		MaxTokens:    rec.MaxTokens,
		SystemPrompt: rec.SystemPrompt,
		AllowedTools: rec.AllowedTools,
		DeniedTools:  rec.DeniedTools,
	}
}

// ToRecord converts a profile into a store record.
func (p *Profile) ToRecord() store.AgentRecord {
	return store.AgentRecord{
		Name:         p.Name,
		Model:        p.Model,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		SystemPrompt: p.SystemPrompt,
		AllowedTools: p.AllowedTools,
		DeniedTools:  p.DeniedTools,
	}
}

// AllowedSet returns the allow list as a set.
func (p *Profile) AllowedSet() map[string]bool {
	return toSet(p.AllowedTools)
}

// DeniedSet returns the deny list as a set.
func (p *Profile) DeniedSet() map[string]bool {
	return toSet(p.DeniedTools)
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// LoadFile parses a YAML profile definition.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// LoadDir loads every *.yaml profile in a directory. A missing directory
// yields no profiles.
func LoadDir(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []*Profile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		p, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // one bad file never hides the rest
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
