// Package orchestration is the operation surface of the server. It composes
// the session driver, storage, scheduler, supervisor, task registry, and
// workflow engine, and enforces the cross-component invariants at operation
// boundaries: unique team names, the orchestrator singleton, cascading
// teardown, and the task-file state machine.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/supervisor"
	"github.com/agentmux/agentmux/internal/taskfolder"
	"github.com/agentmux/agentmux/internal/taskregistry"
	"github.com/agentmux/agentmux/internal/workflow"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Service exposes every orchestration operation.
type Service struct {
	store     *storage.Store
	driver    supervisor.SessionDriver
	sched     *scheduler.Scheduler
	sup       *supervisor.Supervisor
	registry  *taskregistry.Registry
	folders   *taskfolder.Store
	workflows *workflow.Engine
	bus       bus.EventBus
	agent     config.AgentConfig
	logger    *logger.Logger
}

// NewService wires the orchestration surface together.
func NewService(
	store *storage.Store,
	driver supervisor.SessionDriver,
	sched *scheduler.Scheduler,
	sup *supervisor.Supervisor,
	registry *taskregistry.Registry,
	folders *taskfolder.Store,
	workflows *workflow.Engine,
	eventBus bus.EventBus,
	agent config.AgentConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		driver:    driver,
		sched:     sched,
		sup:       sup,
		registry:  registry,
		folders:   folders,
		workflows: workflows,
		bus:       eventBus,
		agent:     agent,
		logger:    log.WithFields(zap.String("component", "orchestration")),
	}
}

// MemberSpec is the caller-supplied description of one team member.
type MemberSpec struct {
	Name         string   `json:"name"`
	Role         v1.Role  `json:"role"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CreateTeam validates the member specs, assigns ids, and persists the team
// with empty session names. Team names are unique.
func (s *Service) CreateTeam(ctx context.Context, name, description string, members []MemberSpec) (*v1.Team, error) {
	if name == "" {
		return nil, apperrors.ValidationError("name", "team name is required")
	}
	if len(members) == 0 {
		return nil, apperrors.InvalidInput("a team needs at least one member")
	}
	if existing, err := s.store.GetTeamByName(name); err == nil && existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("team '%s' already exists", name))
	} else if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	team := &v1.Team{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      v1.TeamStatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, spec := range members {
		if spec.Name == "" {
			return nil, apperrors.ValidationError("members", "member name is required")
		}
		if !spec.Role.IsValid() {
			return nil, apperrors.ValidationError("members", fmt.Sprintf("'%s' is not a valid role", spec.Role))
		}
		team.Members = append(team.Members, v1.TeamMember{
			ID:            uuid.New().String(),
			Name:          spec.Name,
			Role:          spec.Role,
			SystemPrompt:  spec.SystemPrompt,
			Capabilities:  spec.Capabilities,
			AgentStatus:   v1.AgentStatusInactive,
			Status:        v1.AgentStatusInactive,
			WorkingStatus: v1.WorkingStatusIdle,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.store.SaveTeam(team); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TeamCreated, map[string]interface{}{
		"team_id": team.ID,
		"name":    team.Name,
		"members": len(team.Members),
	})
	s.logger.Info("Created team", zap.String("team_id", team.ID), zap.String("name", name))
	return team, nil
}

// GetTeams returns all teams.
func (s *Service) GetTeams() ([]v1.Team, error) { return s.store.GetTeams() }

// GetTeam returns one team by id.
func (s *Service) GetTeam(teamID string) (*v1.Team, error) { return s.store.GetTeam(teamID) }

// StartTeam brings every member of a team to a live, registered agent.
// Members with a running session are noted; the rest are created in batches
// by the supervisor. Check-ins are scheduled for each registered member
// (the tpm role is exempt, it follows the file-gated spec workflow), and a
// recurring commit reminder is armed for the team when configured.
func (s *Service) StartTeam(ctx context.Context, teamID, projectID string) ([]v1.MemberStartResult, error) {
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		return nil, err
	}

	projectPath := ""
	if projectID != "" {
		project, err := s.store.GetProject(projectID)
		if err != nil {
			return nil, err
		}
		projectPath = project.Path
		if _, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
			team.CurrentProject = projectID
			team.UpdatedAt = time.Now().UTC()
			return nil
		}); err != nil {
			return nil, err
		}
	}

	var running []v1.MemberStartResult
	var toStart []string
	for i := range team.Members {
		m := &team.Members[i]
		if m.SessionName != "" && s.driver.Exists(ctx, m.SessionName) {
			running = append(running, v1.MemberStartResult{
				MemberID:    m.ID,
				MemberName:  m.Name,
				SessionName: m.SessionName,
				Success:     true,
				Message:     "session already running",
			})
			continue
		}
		toStart = append(toStart, m.ID)
	}

	results, err := s.sup.StartTeamMembers(ctx, teamID, projectPath, toStart)
	if err != nil {
		return append(running, results...), err
	}
	results = append(running, results...)

	anyActive := false
	for _, r := range results {
		if r.Success {
			anyActive = true
		}
	}
	team, err = s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		if anyActive {
			team.Status = v1.TeamStatusWorking
		}
		team.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return results, err
	}

	for i := range team.Members {
		m := &team.Members[i]
		if m.AgentStatus != v1.AgentStatusActive || m.SessionName == "" || m.Role == v1.RoleTPM {
			continue
		}
		if _, err := s.sched.ScheduleDefaultCheckins(ctx, m.SessionName); err != nil {
			s.logger.Warn("Failed to schedule check-in",
				zap.String("member_id", m.ID), zap.Error(err))
		}
	}
	if s.agent.AutoCommitInterval > 0 && anyActive {
		_, err := s.sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
			Name:          fmt.Sprintf("commit reminder: %s", team.Name),
			Target:        team.ID,
			TargetProject: projectID,
			Message:       "COMMIT REMINDER: Commit your current work with a descriptive message, even if incomplete.",
			DelayAmount:   s.agent.AutoCommitInterval,
			DelayUnit:     v1.DelayUnitMinutes,
			Recurring:     true,
		})
		if err != nil {
			s.logger.Warn("Failed to schedule commit reminder", zap.Error(err))
		}
	}

	s.publish(ctx, events.TeamStarted, map[string]interface{}{
		"team_id":    teamID,
		"project_id": projectID,
		"started":    len(toStart),
	})
	return results, nil
}

// StopTeam kills every member session, clears session names, and cancels all
// scheduled messages targeting the team or its sessions.
func (s *Service) StopTeam(ctx context.Context, teamID string) (*v1.StopTeamResult, error) {
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		return nil, err
	}

	result := &v1.StopTeamResult{}
	for i := range team.Members {
		m := &team.Members[i]
		// The orchestrator session is reserved; stopping it is a no-op.
		if m.Role == v1.RoleOrchestrator {
			continue
		}
		if m.SessionName != "" {
			if _, err := s.sched.CancelAllChecksForSession(ctx, m.SessionName); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			kill, err := s.driver.Kill(ctx, m.SessionName)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
			} else if kill.Killed {
				result.SessionsStopped++
			}
		}
	}
	if _, err := s.sched.CancelAllForTarget(ctx, teamID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	now := time.Now().UTC()
	if _, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		for i := range team.Members {
			m := &team.Members[i]
			if m.Role == v1.RoleOrchestrator {
				continue
			}
			m.SessionName = ""
			m.SetAgentStatus(v1.AgentStatusInactive)
			m.WorkingStatus = v1.WorkingStatusIdle
			m.ReadyAt = nil
			m.UpdatedAt = now
		}
		if team.Status != v1.TeamStatusTerminated {
			team.Status = v1.TeamStatusIdle
		}
		team.UpdatedAt = now
		return nil
	}); err != nil {
		return result, err
	}

	s.publish(ctx, events.TeamStopped, map[string]interface{}{
		"team_id": teamID,
		"stopped": result.SessionsStopped,
	})
	s.logger.Info("Stopped team",
		zap.String("team_id", teamID),
		zap.Int("sessions_stopped", result.SessionsStopped))
	return result, nil
}

// DeleteTeam stops the team and removes it. A team carrying the orchestrator
// role cannot be deleted.
func (s *Service) DeleteTeam(ctx context.Context, teamID string) error {
	if _, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		for _, m := range team.Members {
			if m.Role == v1.RoleOrchestrator {
				return apperrors.InvalidInput("cannot delete the orchestrator team")
			}
		}
		team.Status = v1.TeamStatusTerminated
		return nil
	}); err != nil {
		return err
	}
	if _, err := s.StopTeam(ctx, teamID); err != nil {
		return err
	}
	if err := s.store.DeleteTeam(teamID); err != nil {
		return err
	}

	s.publish(ctx, events.TeamDeleted, map[string]interface{}{"team_id": teamID})
	return nil
}

// StartTeamMember initializes a single member of a team.
func (s *Service) StartTeamMember(ctx context.Context, teamID, memberID string) (*v1.MemberStartResult, error) {
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		return nil, err
	}
	projectPath := ""
	if team.CurrentProject != "" {
		if project, err := s.store.GetProject(team.CurrentProject); err == nil {
			projectPath = project.Path
		}
	}

	results, err := s.sup.StartTeamMembers(ctx, teamID, projectPath, []string{memberID})
	if len(results) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NotFound("team member", memberID)
	}
	result := results[0]

	if result.Success {
		if team, err := s.store.GetTeam(teamID); err == nil {
			if m := team.Member(memberID); m != nil && m.Role != v1.RoleTPM && m.SessionName != "" {
				if _, err := s.sched.ScheduleDefaultCheckins(ctx, m.SessionName); err != nil {
					s.logger.Warn("Failed to schedule check-in", zap.Error(err))
				}
			}
		}
	}
	return &result, nil
}

// StopTeamMember kills one member's session and cancels its check-ins.
func (s *Service) StopTeamMember(ctx context.Context, teamID, memberID string) error {
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		return err
	}
	member := team.Member(memberID)
	if member == nil {
		return apperrors.NotFound("team member", memberID)
	}

	if member.SessionName != "" {
		if _, err := s.sched.CancelAllChecksForSession(ctx, member.SessionName); err != nil {
			s.logger.Warn("Failed to cancel check-ins", zap.Error(err))
		}
		if _, err := s.driver.Kill(ctx, member.SessionName); err != nil {
			return err
		}
	}
	if _, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		m := team.Member(memberID)
		if m == nil {
			return apperrors.NotFound("team member", memberID)
		}
		m.SessionName = ""
		m.SetAgentStatus(v1.AgentStatusInactive)
		m.WorkingStatus = v1.WorkingStatusIdle
		m.ReadyAt = nil
		m.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		return err
	}

	s.publish(ctx, events.MemberStopped, map[string]interface{}{
		"team_id":   teamID,
		"member_id": memberID,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "orchestration", data)); err != nil {
		s.logger.Debug("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
