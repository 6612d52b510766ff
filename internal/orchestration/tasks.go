package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/taskfolder"
	"github.com/agentmux/agentmux/internal/taskregistry"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// findMember locates a member across all teams.
func (s *Service) findMember(memberID string) (*v1.Team, *v1.TeamMember, error) {
	teams, err := s.store.GetTeams()
	if err != nil {
		return nil, nil, err
	}
	for i := range teams {
		if m := teams[i].Member(memberID); m != nil {
			return &teams[i], m, nil
		}
	}
	return nil, nil, apperrors.NotFound("team member", memberID)
}

// AssignTask moves a task file from open to in_progress and records the
// assignment in the registry. The assigned member is notified on its session
// when one is live.
func (s *Service) AssignTask(ctx context.Context, projectID, taskPath, memberID string) (*v1.InProgressTask, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if existing := s.registry.FindByPath(taskPath); existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("task '%s' is already assigned", existing.TaskName))
	}
	_, member, err := s.findMember(memberID)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(taskPath)
	if err != nil {
		return nil, apperrors.NotFound("task file", taskPath)
	}
	fm, _, err := taskfolder.ParseFrontmatter(content)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("task file '%s' has malformed frontmatter: %v", taskPath, err))
	}
	taskName := fm.Title
	if taskName == "" {
		taskName = filepath.Base(taskPath)
	}
	role := fm.TargetRole
	if role == "" {
		role = taskfolder.RoleFromFileName(filepath.Base(taskPath))
	}
	if role == "" {
		role = string(member.Role)
	}

	newPath, err := s.folders.MoveTaskToStatus(taskPath, v1.TaskStatusInProgress)
	if err != nil {
		return nil, err
	}

	entry, err := s.registry.AssignTask(ctx, projectID, newPath, taskName, role, memberID, member.SessionName, fm.Priority)
	if err != nil {
		if _, moveErr := s.folders.MoveTaskToStatus(newPath, v1.TaskStatusOpen); moveErr != nil {
			s.logger.Error("Failed to roll back task move",
				zap.String("path", newPath), zap.Error(moveErr))
		}
		return nil, err
	}

	if member.SessionName != "" && s.driver.Exists(ctx, member.SessionName) {
		note := fmt.Sprintf("TASK ASSIGNED: %s\nTask file: %s\nRead the file, complete the acceptance criteria, then report done.", taskName, newPath)
		if err := s.driver.SendMessage(ctx, member.SessionName, note); err != nil {
			s.logger.Warn("Failed to notify member", zap.String("member_id", memberID), zap.Error(err))
		}
	}

	s.publish(ctx, events.TaskAssigned, map[string]interface{}{
		"project_id": project.ID,
		"entry_id":   entry.ID,
		"task":       taskName,
		"member_id":  memberID,
	})
	return entry, nil
}

// findEntry returns the registry entry by id.
func (s *Service) findEntry(entryID string) (*v1.InProgressTask, error) {
	for _, e := range s.registry.Entries() {
		if e.ID == entryID {
			return &e, nil
		}
	}
	return nil, apperrors.NotFound("task registry entry", entryID)
}

// CompleteTask moves the task file to done and drops the registry entry.
func (s *Service) CompleteTask(ctx context.Context, entryID string) error {
	entry, err := s.findEntry(entryID)
	if err != nil {
		return err
	}
	if _, err := s.folders.MoveTaskToStatus(entry.TaskFilePath, v1.TaskStatusDone); err != nil {
		return err
	}
	if err := s.registry.RemoveTask(ctx, entryID); err != nil {
		return err
	}

	s.publish(ctx, events.TaskCompleted, map[string]interface{}{
		"project_id": entry.ProjectID,
		"entry_id":   entryID,
		"task":       entry.TaskName,
	})
	s.logger.Info("Completed task",
		zap.String("task", entry.TaskName),
		zap.String("member_id", entry.AssignedMemberID))
	return nil
}

// BlockTask moves the task file to blocked and records the reason.
func (s *Service) BlockTask(ctx context.Context, entryID, reason string) error {
	entry, err := s.findEntry(entryID)
	if err != nil {
		return err
	}
	newPath, err := s.folders.MoveTaskToStatus(entry.TaskFilePath, v1.TaskStatusBlocked)
	if err != nil {
		return err
	}
	if err := s.registry.UpdatePath(entryID, newPath); err != nil {
		return err
	}
	if _, err := s.registry.UpdateStatus(ctx, entryID, v1.AssignmentStatusBlocked, reason); err != nil {
		return err
	}

	s.publish(ctx, events.TaskBlocked, map[string]interface{}{
		"project_id": entry.ProjectID,
		"entry_id":   entryID,
		"task":       entry.TaskName,
		"reason":     reason,
	})
	return nil
}

// UnblockTask moves a blocked task file back to in_progress.
func (s *Service) UnblockTask(ctx context.Context, entryID string) error {
	entry, err := s.findEntry(entryID)
	if err != nil {
		return err
	}
	newPath, err := s.folders.MoveTaskToStatus(entry.TaskFilePath, v1.TaskStatusInProgress)
	if err != nil {
		return err
	}
	if err := s.registry.UpdatePath(entryID, newPath); err != nil {
		return err
	}
	if _, err := s.registry.UpdateStatus(ctx, entryID, v1.AssignmentStatusActive, ""); err != nil {
		return err
	}

	s.publish(ctx, events.TaskUnblocked, map[string]interface{}{
		"project_id": entry.ProjectID,
		"entry_id":   entryID,
		"task":       entry.TaskName,
	})
	return nil
}

// TakeNextTask picks the next open task for a member, preferring tasks whose
// target role matches the member's role and falling back to any open task,
// then assigns it.
func (s *Service) TakeNextTask(ctx context.Context, projectID, memberID string) (*v1.InProgressTask, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	_, member, err := s.findMember(memberID)
	if err != nil {
		return nil, err
	}

	open, err := s.registry.GetOpenTasks(project.Path)
	if err != nil {
		return nil, err
	}
	var pick *v1.TaskFileInfo
	for i := range open {
		if open[i].TargetRole == string(member.Role) {
			pick = &open[i]
			break
		}
	}
	if pick == nil && len(open) > 0 {
		pick = &open[0]
	}
	// No open tasks is not an error: the caller gets a nil entry.
	if pick == nil {
		return nil, nil
	}

	return s.AssignTask(ctx, projectID, pick.Path, memberID)
}

// SyncTaskStatus reconciles the registry with the project's task tree.
func (s *Service) SyncTaskStatus(ctx context.Context, projectID string) (*taskregistry.SyncReport, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	report, err := s.registry.SyncWithFileSystem(ctx, project.Path, projectID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TaskSynced, map[string]interface{}{
		"project_id": projectID,
		"removed":    report.Removed,
		"orphans":    report.Orphans,
		"remaining":  report.Remaining,
	})
	return report, nil
}
