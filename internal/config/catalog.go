// Package config loads the agent and skill documents, workflow files and the
// application settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/skills"
	"gopkg.in/yaml.v3"
)

// File names inside the config directory.
const (
	CoreAgentsFile        = "core_agents.yaml"
	SpecializedAgentsFile = "specialized_agents.yaml"
	SkillsFile            = "subagent_skills.yaml"
)

// ErrInvalidConfig is returned for any malformed configuration document.
var ErrInvalidConfig = errors.New("invalid configuration")

// AgentSpec is one configured agent.
type AgentSpec struct {
	Name   string
	Config models.AgentConfig
}

// Catalog is the fully loaded configuration directory.
type Catalog struct {
	Core        []AgentSpec
	Specialized []AgentSpec
	Skills      *skills.Registry
}

// Load reads the three configuration documents from dir. Every file is
// required.
func Load(dir string, opts ...skills.Option) (*Catalog, error) {
	core, err := LoadAgents(filepath.Join(dir, CoreAgentsFile))
	if err != nil {
		return nil, err
	}
	specialized, err := LoadAgents(filepath.Join(dir, SpecializedAgentsFile))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(core))
	for _, a := range core {
		seen[a.Name] = CoreAgentsFile
	}
	for _, a := range specialized {
		if where, dup := seen[a.Name]; dup {
			return nil, fmt.Errorf("%w: agent %q defined in both %s and %s", ErrInvalidConfig, a.Name, where, SpecializedAgentsFile)
		}
	}

	reg, err := skills.LoadFile(filepath.Join(dir, SkillsFile), opts...)
	if err != nil {
		return nil, err
	}

	return &Catalog{Core: core, Specialized: specialized, Skills: reg}, nil
}

// LoadAgents reads an agent document with a top-level "agents" mapping.
// Agents keep document order.
func LoadAgents(path string) ([]AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents config: %w", err)
	}
	agents, err := ParseAgents(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return agents, nil
}

// ParseAgents decodes an agent document.
func ParseAgents(data []byte) ([]AgentSpec, error) {
	var doc struct {
		Agents yaml.Node `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc.Agents.Kind == 0 {
		return nil, fmt.Errorf("%w: missing agents key", ErrInvalidConfig)
	}
	if doc.Agents.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: agents must be a mapping (line %d)", ErrInvalidConfig, doc.Agents.Line)
	}

	out := make([]AgentSpec, 0, len(doc.Agents.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(doc.Agents.Content); i += 2 {
		key, value := doc.Agents.Content[i], doc.Agents.Content[i+1]
		name := key.Value

		var cfg models.AgentConfig
		if err := value.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: agent %q: %v", ErrInvalidConfig, name, err)
		}
		if cfg.SkillSlots <= 0 {
			return nil, fmt.Errorf("%w: agent %q needs a positive skill_slots", ErrInvalidConfig, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate agent %q", ErrInvalidConfig, name)
		}
		seen[name] = true
		out = append(out, AgentSpec{Name: name, Config: cfg})
	}
	return out, nil
}
