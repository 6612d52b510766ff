package orchestration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/workflow"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// CreateProject registers a directory as a project. The path must exist.
func (s *Service) CreateProject(ctx context.Context, name, path string) (*v1.Project, error) {
	if name == "" {
		return nil, apperrors.ValidationError("name", "project name is required")
	}
	if path == "" {
		return nil, apperrors.ValidationError("path", "project path is required")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, apperrors.NotFound("project directory", path)
	}

	now := time.Now().UTC()
	project := &v1.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		Teams:     make(map[string][]string),
		Status:    v1.ProjectStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveProject(project); err != nil {
		return nil, err
	}

	s.publish(ctx, events.ProjectCreated, map[string]interface{}{
		"project_id": project.ID,
		"name":       name,
		"path":       path,
	})
	s.logger.Info("Created project", zap.String("project_id", project.ID), zap.String("path", path))
	return project, nil
}

// GetProjects returns all projects.
func (s *Service) GetProjects() ([]v1.Project, error) { return s.store.GetProjects() }

// GetProject returns one project by id.
func (s *Service) GetProject(projectID string) (*v1.Project, error) {
	return s.store.GetProject(projectID)
}

// DeleteProject removes the project record. Task trees on disk are left
// untouched.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	return s.store.DeleteProject(projectID)
}

// GetTickets scans a project's task tree for task files matching the filter.
func (s *Service) GetTickets(projectID string, filter storage.TicketFilter) ([]v1.TaskFileInfo, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	return s.store.GetTickets(project.Path, filter)
}

// AssignTeamsToProject replaces the project's role-to-teams map, points each
// assigned team at the project, and notifies the orchestrator session when
// it is live.
func (s *Service) AssignTeamsToProject(ctx context.Context, projectID string, assignments map[string][]string) (*v1.Project, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	for role, teamIDs := range assignments {
		for _, teamID := range teamIDs {
			if _, err := s.store.GetTeam(teamID); err != nil {
				return nil, apperrors.NotFound(fmt.Sprintf("team for role '%s'", role), teamID)
			}
		}
	}

	now := time.Now().UTC()
	project.Teams = assignments
	project.UpdatedAt = now
	if err := s.store.SaveProject(project); err != nil {
		return nil, err
	}

	for _, teamID := range project.AllTeamIDs() {
		if _, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
			team.CurrentProject = projectID
			team.UpdatedAt = now
			return nil
		}); err != nil {
			s.logger.Warn("Failed to update team project binding",
				zap.String("team_id", teamID), zap.Error(err))
		}
	}

	if s.driver.Exists(ctx, v1.OrchestratorSessionName) {
		note := workflow.Template(fmt.Sprintf(
			"TEAMS ASSIGNED: project {PROJECT_NAME} ({PROJECT_PATH}) now has %d team(s). Review open tasks and distribute work by role.",
			len(project.AllTeamIDs())), project)
		if err := s.driver.SendMessage(ctx, v1.OrchestratorSessionName, note); err != nil {
			s.logger.Warn("Failed to notify orchestrator", zap.Error(err))
		}
	}

	s.publish(ctx, events.ProjectTeamsAssigned, map[string]interface{}{
		"project_id": projectID,
		"teams":      len(project.AllTeamIDs()),
	})
	return project, nil
}
