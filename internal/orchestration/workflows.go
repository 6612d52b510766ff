package orchestration

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/taskregistry"
	"github.com/agentmux/agentmux/internal/workflow"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// RetryWorkflowStep re-delivers one step of a workflow config to a session.
func (s *Service) RetryWorkflowStep(ctx context.Context, projectID, configName, stepID, sessionName string) error {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return err
	}
	return s.workflows.RetryStep(ctx, configName, stepID, sessionName, project)
}

// GenerateWorkflowTasks synthesizes task files from a workflow config into
// the milestone's open folder and registers the orphan entries so the
// orchestrator can assign them by role.
func (s *Service) GenerateWorkflowTasks(ctx context.Context, projectID, configName, milestone string) ([]workflow.GeneratedTask, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	generated, err := s.workflows.GenerateTasks(ctx, configName, milestone, project)
	if err != nil {
		return nil, err
	}
	// Reconcile so the new files are visible to the registry immediately.
	if _, err := s.registry.SyncWithFileSystem(ctx, project.Path, projectID); err != nil {
		s.logger.Warn("Post-generation sync failed", zap.Error(err))
	}
	return generated, nil
}

// ScheduleMessage arms a delayed or recurring delivery.
func (s *Service) ScheduleMessage(ctx context.Context, msg *v1.ScheduledMessage) (*v1.ScheduledMessage, error) {
	return s.sched.ScheduleMessage(ctx, msg)
}

// CancelMessage cancels a scheduled delivery.
func (s *Service) CancelMessage(ctx context.Context, id string) error {
	return s.sched.CancelMessage(ctx, id)
}

// GetScheduledMessages returns every persisted scheduled message.
func (s *Service) GetScheduledMessages() ([]v1.ScheduledMessage, error) {
	return s.store.GetScheduledMessages()
}

// GetDeliveryLogs returns the append-only delivery log.
func (s *Service) GetDeliveryLogs() ([]v1.MessageDeliveryLog, error) {
	return s.store.GetDeliveryLogs()
}

// GetInProgressTasks returns the registry entries, optionally filtered by
// project.
func (s *Service) GetInProgressTasks(projectID string) []v1.InProgressTask {
	if projectID == "" {
		return s.registry.Entries()
	}
	return s.registry.EntriesForProject(projectID)
}

// Registry exposes the task registry for components that need direct access.
func (s *Service) Registry() *taskregistry.Registry { return s.registry }
