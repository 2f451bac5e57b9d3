package analysis

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var defaultRosterYAML []byte

// Role describes one agent persona.
type Role struct {
	Name          string `yaml:"name"`
	Role          string `yaml:"role"`
	Goal          string `yaml:"goal"`
	Backstory     string `yaml:"backstory"`
	MaxIterations int    `yaml:"max_iterations"`
}

// SystemPrompt renders the persona for the LLM.
func (r Role) SystemPrompt() string {
	return fmt.Sprintf("You are a %s. %s\n\nYour goal: %s\n\nAnswer in plain prose. Use the tools to ground every figure you cite in the document.",
		r.Role, strings.TrimSpace(r.Backstory), r.Goal)
}

// Task is one unit of agent work whose output becomes a report section.
type Task struct {
	Section        string   `yaml:"section"`
	Agent          string   `yaml:"agent"`
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Context        []string `yaml:"context"`
	Tools          []string `yaml:"tools"`
}

// Render fills the per-request placeholders.
func (t Task) Render(filePath, query string) (description, expected string) {
	r := strings.NewReplacer("{file_path}", filePath, "{query}", query)
	return r.Replace(t.Description), r.Replace(t.ExpectedOutput)
}

// Roster is the parsed, validated role and task configuration. It is never
// mutated after LoadRoster returns.
type Roster struct {
	Agents []Role `yaml:"agents"`
	Tasks  []Task `yaml:"tasks"`

	roles map[string]Role
	waves [][]Task
}

var knownTools = map[string]bool{
	ToolReadDocument:      true,
	ToolAnalyzeInvestment: true,
	ToolAssessRisk:        true,
	ToolWebSearch:         true,
}

// LoadRoster parses and validates a roster document.
func LoadRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(r.Tasks) == 0 {
		return nil, fmt.Errorf("roster has no tasks")
	}

	r.roles = make(map[string]Role, len(r.Agents))
	for _, role := range r.Agents {
		if role.Name == "" {
			return nil, fmt.Errorf("roster agent without name")
		}
		if _, dup := r.roles[role.Name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", role.Name)
		}
		r.roles[role.Name] = role
	}

	sections := make(map[string]bool, len(r.Tasks))
	for _, task := range r.Tasks {
		if task.Section == "" {
			return nil, fmt.Errorf("roster task without section")
		}
		if sections[task.Section] {
			return nil, fmt.Errorf("duplicate task section %q", task.Section)
		}
		sections[task.Section] = true
		if _, ok := r.roles[task.Agent]; !ok {
			return nil, fmt.Errorf("task %q references unknown agent %q", task.Section, task.Agent)
		}
		for _, name := range task.Tools {
			if !knownTools[name] {
				return nil, fmt.Errorf("task %q references unknown tool %q", task.Section, name)
			}
		}
	}
	for _, task := range r.Tasks {
		for _, dep := range task.Context {
			if !sections[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", task.Section, dep)
			}
		}
	}

	waves, err := buildWaves(r.Tasks)
	if err != nil {
		return nil, err
	}
	r.waves = waves
	return &r, nil
}

var defaultRoster = sync.OnceValues(func() (*Roster, error) {
	return LoadRoster(defaultRosterYAML)
})

// DefaultRoster returns the embedded roster, parsed once.
func DefaultRoster() (*Roster, error) {
	return defaultRoster()
}

// Role looks up an agent by name.
func (r *Roster) Role(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// Waves groups tasks so that every task only depends on tasks of earlier
// waves. Tasks inside one wave are independent.
func (r *Roster) Waves() [][]Task {
	return r.waves
}

func buildWaves(tasks []Task) ([][]Task, error) {
	done := make(map[string]bool, len(tasks))
	remaining := append([]Task(nil), tasks...)
	waves := make([][]Task, 0)

	for len(remaining) > 0 {
		var wave, next []Task
		for _, task := range remaining {
			ready := true
			for _, dep := range task.Context {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, task)
			} else {
				next = append(next, task)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("roster tasks have a dependency cycle")
		}
		for _, task := range wave {
			done[task.Section] = true
		}
		waves = append(waves, wave)
		remaining = next
	}
	return waves, nil
}
