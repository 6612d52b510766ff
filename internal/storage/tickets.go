package storage

import (
	"github.com/agentmux/agentmux/internal/taskfolder"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// TicketFilter narrows a ticket scan. Zero fields match everything.
type TicketFilter struct {
	Milestone  string
	Status     v1.TaskStatus
	TargetRole string
}

// GetTickets scans the project's task tree and returns the matching task
// files. The scan reads frontmatter but never mutates the tree.
func (s *Store) GetTickets(projectPath string, filter TicketFilter) ([]v1.TaskFileInfo, error) {
	folders := taskfolder.NewStore(s.logger)
	return folders.ListAllTasks(projectPath, taskfolder.Filter{
		Milestone:  filter.Milestone,
		Status:     filter.Status,
		TargetRole: filter.TargetRole,
	})
}
