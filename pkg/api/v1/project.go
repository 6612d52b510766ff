package v1

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusPaused    ProjectStatus = "paused"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusStopped   ProjectStatus = "stopped"
)

// Project binds teams to a directory on disk. The `.agentmux/` subtree under
// Path holds specs, tasks, and runtime files.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	// Teams maps a role key (e.g. "developer") to an ordered list of team ids.
	Teams     map[string][]string `json:"teams"`
	Status    ProjectStatus       `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// AllTeamIDs returns the deduplicated set of team ids assigned to the project.
func (p *Project) AllTeamIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, group := range p.Teams {
		for _, id := range group {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
