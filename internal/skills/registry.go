// Package skills holds the catalog of attachable skills and the rules for
// combining them.
package skills

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fentz26/cfagents/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultExclusiveCategories lists the categories of which an agent may hold
// at most one skill.
var DefaultExclusiveCategories = []string{"partisan_analysis", "donor_analysis"}

// Option configures a Registry.
type Option func(*Registry)

// WithExclusiveCategories replaces the exclusive category set.
func WithExclusiveCategories(categories ...string) Option {
	return func(r *Registry) {
		r.exclusive = append([]string(nil), categories...)
	}
}

// Registry is an immutable, ordered skills catalog. It is safe for
// concurrent reads once constructed.
type Registry struct {
	skills    map[string]models.Skill
	order     []string
	exclusive []string
}

// New builds a registry from skills in catalog order.
func New(list []models.Skill, opts ...Option) (*Registry, error) {
	r := &Registry{
		skills:    make(map[string]models.Skill, len(list)),
		exclusive: append([]string(nil), DefaultExclusiveCategories...),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range list {
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, dup := r.skills[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate skill %q", ErrInvalidCatalog, s.Name)
		}
		r.skills[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Parse decodes a catalog document with a top-level "skills" mapping.
// Skills keep the order in which they appear in the document.
func Parse(data []byte, opts ...Option) (*Registry, error) {
	var doc struct {
		Skills yaml.Node `yaml:"skills"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if doc.Skills.Kind == 0 {
		return nil, fmt.Errorf("%w: missing skills key", ErrInvalidCatalog)
	}
	if doc.Skills.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: skills must be a mapping (line %d)", ErrInvalidCatalog, doc.Skills.Line)
	}

	list := make([]models.Skill, 0, len(doc.Skills.Content)/2)
	for i := 0; i+1 < len(doc.Skills.Content); i += 2 {
		key, value := doc.Skills.Content[i], doc.Skills.Content[i+1]
		var s models.Skill
		if err := value.Decode(&s); err != nil {
			return nil, fmt.Errorf("%w: skill %q: %v", ErrInvalidCatalog, key.Value, err)
		}
		s.Name = key.Value
		list = append(list, s)
	}
	return New(list, opts...)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skills catalog: %w", err)
	}
	r, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func validate(s models.Skill) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: skill without a name", ErrInvalidCatalog)
	case s.Category == "":
		return fmt.Errorf("%w: skill %q has no category", ErrInvalidCatalog, s.Name)
	case s.WordCount < 0:
		return fmt.Errorf("%w: skill %q has a negative word count", ErrInvalidCatalog, s.Name)
	}
	if _, err := models.ParseSkillLevel(string(s.SkillLevel)); err != nil {
		return fmt.Errorf("%w: skill %q: %v", ErrInvalidCatalog, s.Name, err)
	}
	return nil
}

// Len returns the number of skills in the catalog.
func (r *Registry) Len() int {
	return len(r.order)
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (models.Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// Names returns every skill name in catalog order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ExclusiveCategories returns the categories limited to one skill per
// combination.
func (r *Registry) ExclusiveCategories() []string {
	return append([]string(nil), r.exclusive...)
}

// List returns the skills in catalog order, optionally narrowed to a
// category and to skills that name the agent in attachable_to.
func (r *Registry) List(category, agent string) []models.Skill {
	return r.filter(func(s models.Skill) bool {
		if category != "" && s.Category != category {
			return false
		}
		return agent == "" || s.ListsAgent(agent)
	})
}

// ByCategory groups skill names by category. Names keep catalog order.
func (r *Registry) ByCategory() map[string][]string {
	out := make(map[string][]string)
	for _, name := range r.order {
		c := r.skills[name].Category
		out[c] = append(out[c], name)
	}
	return out
}

// Categories returns the distinct categories in sorted order.
func (r *Registry) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.order {
		c := r.skills[name].Category
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Search does a case-insensitive substring match over name, description
// and category.
func (r *Registry) Search(query string) []models.Skill {
	q := strings.ToLower(query)
	return r.filter(func(s models.Skill) bool {
		return strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Description), q) ||
			strings.Contains(strings.ToLower(s.Category), q)
	})
}

// ForAgent returns the skills whose attachable_to names the agent.
func (r *Registry) ForAgent(agent string) []models.Skill {
	return r.filter(func(s models.Skill) bool { return s.ListsAgent(agent) })
}

// CheckCombination verifies that every name exists and that no exclusive
// category appears twice. It does not look at any agent's current skills.
func (r *Registry) CheckCombination(names []string) error {
	used := make(map[string]string)
	for _, name := range names {
		s, ok := r.skills[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSkill, name)
		}
		if !slices.Contains(r.exclusive, s.Category) {
			continue
		}
		if prev, ok := used[s.Category]; ok {
			return fmt.Errorf("%w: %s and %s are both %s", ErrExclusiveConflict, prev, name, s.Category)
		}
		used[s.Category] = name
	}
	return nil
}

// ValidateCombination reports whether CheckCombination passes.
func (r *Registry) ValidateCombination(names []string) bool {
	return r.CheckCombination(names) == nil
}

// Recommend returns up to limit skills for the agent, expert first, then
// advanced, then intermediate. Ties keep catalog order.
func (r *Registry) Recommend(agent string, limit int) []models.Skill {
	if limit <= 0 {
		return nil
	}
	candidates := r.ForAgent(agent)
	slices.SortStableFunc(candidates, func(a, b models.Skill) int {
		return cmp.Compare(a.SkillLevel.Rank(), b.SkillLevel.Rank())
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// Capabilities derives coarse capability tags from a skill's description.
func Capabilities(s models.Skill) []string {
	desc := strings.ToLower(s.Description)
	var caps []string
	for _, kw := range []struct{ word, tag string }{
		{"partisan", "partisan_analysis"},
		{"donor", "donor_analysis"},
		{"fec", "fec_expertise"},
	} {
		if strings.Contains(desc, kw.word) {
			caps = append(caps, kw.tag)
		}
	}
	return caps
}

func (r *Registry) filter(keep func(models.Skill) bool) []models.Skill {
	var out []models.Skill
	for _, name := range r.order {
		if s := r.skills[name]; keep(s) {
			out = append(out, s)
		}
	}
	return out
}
