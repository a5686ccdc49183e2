// Package plan loads and validates task-plan documents.
// A plan names the project and lists every task with an explicit depends_on;
// malformed plans are refused before the orchestrator starts.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"overseer/pkg/models"
)

// Plan is the task-plan input document.
type Plan struct {
	// ProjectName is the human-readable project name.
	ProjectName string `yaml:"project_name" json:"project_name"`
	// Description describes the overall goal.
	Description string `yaml:"description" json:"description"`
	// Tasks lists every task in the project.
	Tasks []PlanTask `yaml:"tasks" json:"tasks"`
}

// PlanTask is one task entry in a plan document.
type PlanTask struct {
	ID          string   `yaml:"id" json:"id"`
	Type        string   `yaml:"type" json:"type"`
	Branch      string   `yaml:"branch" json:"branch"`
	Agent       string   `yaml:"agent" json:"agent"`
	Description string   `yaml:"description" json:"description"`
	DependsOn   []string `yaml:"depends_on" json:"depends_on"`
}

// Load reads a plan from a YAML or JSON file (by extension) and validates it.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	p := &Plan{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse plan %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse plan %s: %w", path, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks plan-level structure. Graph-level checks (cycles, unknown
// dependency ids) happen when the graph is built.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.ProjectName) == "" {
		return fmt.Errorf("plan: project_name is required")
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan: at least one task is required")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("plan: task %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("plan: duplicate task id %s", t.ID)
		}
		seen[t.ID] = true

		if !models.TaskType(t.Type).Valid() {
			return fmt.Errorf("plan: task %s has unknown type %q", t.ID, t.Type)
		}
		if strings.TrimSpace(t.Branch) == "" {
			return fmt.Errorf("plan: task %s has no branch", t.ID)
		}
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("plan: task %s has no description", t.ID)
		}
		// depends_on must be declared explicitly, even when empty; a nil
		// slice means the author forgot to think about ordering.
		if t.DependsOn == nil {
			return fmt.Errorf("plan: task %s must declare depends_on (use [] for none)", t.ID)
		}
	}
	return nil
}

// ToTasks converts plan entries into model tasks. Tasks with an empty
// depends_on start ready; the rest start blocked.
func (p *Plan) ToTasks() []*models.Task {
	now := time.Now().UTC()
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		status := models.TaskStatusBlocked
		if len(t.DependsOn) == 0 {
			status = models.TaskStatusReady
		}
		tasks = append(tasks, &models.Task{
			ID:          t.ID,
			Type:        models.TaskType(t.Type),
			Branch:      t.Branch,
			AgentType:   t.Agent,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			Status:      status,
			CreatedAt:   now,
		})
	}
	return tasks
}
