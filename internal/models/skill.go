package models

import (
	"fmt"
	"slices"
)

// SkillLevel is the proficiency tier of a skill.
type SkillLevel string

const (
	SkillLevelIntermediate SkillLevel = "intermediate"
	SkillLevelAdvanced     SkillLevel = "advanced"
	SkillLevelExpert       SkillLevel = "expert"
)

// Rank orders levels for recommendation; lower ranks are recommended first.
func (l SkillLevel) Rank() int {
	switch l {
	case SkillLevelExpert:
		return 0
	case SkillLevelAdvanced:
		return 1
	case SkillLevelIntermediate:
		return 2
	default:
		return 3
	}
}

// ParseSkillLevel validates a level string.
func ParseSkillLevel(s string) (SkillLevel, error) {
	switch l := SkillLevel(s); l {
	case SkillLevelIntermediate, SkillLevelAdvanced, SkillLevelExpert:
		return l, nil
	default:
		return "", fmt.Errorf("unknown skill level %q", s)
	}
}

// Skill is an attachable capability from the skills catalog.
type Skill struct {
	Name         string     `json:"name" yaml:"-"`
	Category     string     `json:"category" yaml:"category"`
	Description  string     `json:"description" yaml:"description"`
	WordCount    int        `json:"word_count" yaml:"word_count"`
	AttachableTo []string   `json:"attachable_to" yaml:"attachable_to"`
	SkillLevel   SkillLevel `json:"skill_level" yaml:"skill_level"`
	Tools        []string   `json:"tools" yaml:"tools"`
	Outputs      []string   `json:"outputs" yaml:"outputs"`
}

// CanAttachTo reports whether the agent appears in AttachableTo.
// An empty AttachableTo list places no restriction.
func (s Skill) CanAttachTo(agent string) bool {
	return len(s.AttachableTo) == 0 || slices.Contains(s.AttachableTo, agent)
}

// ListsAgent reports whether the agent is named explicitly in AttachableTo.
func (s Skill) ListsAgent(agent string) bool {
	return slices.Contains(s.AttachableTo, agent)
}
