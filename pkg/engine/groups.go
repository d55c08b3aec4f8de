package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Group is a named visibility selection: the set of entity ids that should be
// visible while the group is active.
type Group struct {
	Name      string   `yaml:"name" json:"name"`
	Selection []string `yaml:"selection" json:"selection"`
}

// GroupProvider resolves group ids to stored groups. Implementations are
// read-only from the engine's point of view.
type GroupProvider interface {
	Group(id string) (Group, bool)
}

// StaticGroups is a fixed id-to-group mapping.
type StaticGroups map[string]Group

// Group implements GroupProvider.
func (s StaticGroups) Group(id string) (Group, bool) {
	g, ok := s[id]
	return g, ok
}

// LoadGroups reads a YAML file mapping group ids to groups.
func LoadGroups(path string) (StaticGroups, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read groups file: %w", err)
	}
	var groups StaticGroups
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("engine: parse groups file %s: %w", path, err)
	}
	return groups, nil
}
