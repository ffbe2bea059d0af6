package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kinos-ai/kinos/types"
)

// teamFile is the on-disk shape of one team definition. Agents may be
// plain strings or objects with name/type/weight fields.
type teamFile struct {
	ID     string                  `yaml:"id"`
	Name   string                  `yaml:"name"`
	Agents []agentEntry            `yaml:"agents"`
	Phases map[string][]agentEntry `yaml:"phases"`
}

// agentEntry decodes either a bare agent name or a full identity object.
type agentEntry struct {
	Name   string
	Kind   string
	Weight *float64
}

func (e *agentEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&e.Name)
	case yaml.MappingNode:
		var raw struct {
			Name   string   `yaml:"name"`
			Kind   string   `yaml:"type"`
			Weight *float64 `yaml:"weight"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Name = raw.Name
		e.Kind = raw.Kind
		e.Weight = raw.Weight
		return nil
	default:
		return fmt.Errorf("agent entry must be a string or a mapping, got %v", node.Kind)
	}
}

// identity normalizes an entry into an immutable agent identity: names are
// canonicalized, the kind defaults to editing, and missing weights take the
// default.
func (e agentEntry) identity() (types.AgentIdentity, error) {
	name := types.NormalizeAgentName(e.Name)
	if name == "" {
		return types.AgentIdentity{}, types.NewError(types.ErrInvalidConfig, "agent entry has no name")
	}

	kind := types.KindEditing
	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case "", string(types.KindEditing):
	case string(types.KindResearch):
		kind = types.KindResearch
	default:
		return types.AgentIdentity{}, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("agent %q has unknown type %q", e.Name, e.Kind))
	}

	weight := types.DefaultWeight
	if e.Weight != nil {
		if *e.Weight < 0 {
			return types.AgentIdentity{}, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("agent %q has negative weight", e.Name))
		}
		weight = *e.Weight
	}

	return types.AgentIdentity{Name: name, Kind: kind, Weight: weight}, nil
}

// LoadTeams reads every .yaml/.yml file in dir as a team definition.
// Team IDs are normalized; a file without an explicit id takes its base
// file name. Results are sorted by ID.
func LoadTeams(dir string) ([]types.TeamConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read teams dir: %w", err)
	}

	seen := make(map[string]string)
	var teams []types.TeamConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		team, err := LoadTeamFile(path)
		if err != nil {
			return nil, err
		}

		if prev, dup := seen[team.ID]; dup {
			return nil, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("team id %q defined in both %s and %s", team.ID, prev, entry.Name()))
		}
		seen[team.ID] = entry.Name()
		teams = append(teams, team)
	}

	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

// LoadTeamFile reads a single team definition.
func LoadTeamFile(path string) (types.TeamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.TeamConfig{}, fmt.Errorf("read team file: %w", err)
	}

	var tf teamFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("parse %s: %v", filepath.Base(path), err)).WithCause(err)
	}

	id := tf.ID
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	id = types.NormalizeTeamID(id)
	if id == "" {
		return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("%s: empty team id", filepath.Base(path)))
	}

	name := tf.Name
	if name == "" {
		name = id
	}

	team := types.TeamConfig{ID: id, Name: name}

	if len(tf.Agents) == 0 {
		return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("team %q has no agents", id)).WithTeam(id)
	}

	names := make(map[string]struct{}, len(tf.Agents))
	for _, entry := range tf.Agents {
		ident, err := entry.identity()
		if err != nil {
			return types.TeamConfig{}, err
		}
		if _, dup := names[ident.Name]; dup {
			return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("team %q lists agent %q twice", id, ident.Name)).WithTeam(id)
		}
		names[ident.Name] = struct{}{}
		team.Agents = append(team.Agents, ident)
	}

	if len(tf.Phases) > 0 {
		team.PhaseConfig = make(types.PhaseConfig, len(tf.Phases))
		for key, entries := range tf.Phases {
			phase, err := types.ParsePhase(key)
			if err != nil {
				return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
					fmt.Sprintf("team %q: %v", id, err)).WithTeam(id)
			}
			idents := make([]types.AgentIdentity, 0, len(entries))
			for _, entry := range entries {
				ident, err := entry.identity()
				if err != nil {
					return types.TeamConfig{}, err
				}
				if _, known := names[ident.Name]; !known {
					return types.TeamConfig{}, types.NewError(types.ErrInvalidConfig,
						fmt.Sprintf("team %q phase %s references unknown agent %q", id, phase, ident.Name)).WithTeam(id)
				}
				idents = append(idents, ident)
			}
			team.PhaseConfig[phase] = idents
		}
	}

	return team, nil
}
