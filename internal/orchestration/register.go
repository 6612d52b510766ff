package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/events"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// RegisterAgent records an agent's registration ping. The runtime record is
// the oracle the supervisor polls during initialization; a ping that names a
// known member also activates it directly so re-registrations after a
// restart do not wait for the supervisor.
func (s *Service) RegisterAgent(ctx context.Context, role, sessionName, memberID string) error {
	if !v1.Role(role).IsValid() {
		return apperrors.ValidationError("role", fmt.Sprintf("'%s' is not a valid role", role))
	}
	if sessionName == "" {
		return apperrors.ValidationError("sessionName", "session name is required")
	}

	now := time.Now().UTC()
	if err := s.store.SaveRuntimeRecord(&v1.RuntimeRecord{
		Role:         role,
		SessionID:    sessionName,
		MemberID:     memberID,
		Status:       string(v1.AgentStatusActive),
		RegisteredAt: now,
	}); err != nil {
		return err
	}

	if role == string(v1.RoleOrchestrator) {
		if err := s.store.SaveOrchestratorStatus(&v1.OrchestratorStatus{
			SessionID:     v1.OrchestratorSessionName,
			AgentStatus:   v1.AgentStatusActive,
			Status:        v1.AgentStatusActive,
			WorkingStatus: v1.WorkingStatusIdle,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
	} else if memberID != "" {
		if team, _, err := s.findMember(memberID); err == nil {
			lock := s.sup.MemberLock(memberID)
			lock.Lock()
			_, err := s.store.UpdateTeam(team.ID, func(team *v1.Team) error {
				member := team.Member(memberID)
				if member == nil {
					return apperrors.NotFound("team member", memberID)
				}
				member.SetAgentStatus(v1.AgentStatusActive)
				member.SessionName = sessionName
				member.ReadyAt = &now
				member.UpdatedAt = now
				return nil
			})
			lock.Unlock()
			if err != nil {
				return err
			}
		}
	}

	s.publish(ctx, events.AgentRegistered, map[string]interface{}{
		"role":      role,
		"session":   sessionName,
		"member_id": memberID,
	})
	s.logger.Info("Agent registered",
		zap.String("role", role),
		zap.String("session", sessionName))
	return nil
}

// StartOrchestrator creates the singleton orchestrator session.
func (s *Service) StartOrchestrator(ctx context.Context, projectPath string) (*v1.OrchestratorStatus, error) {
	return s.sup.StartOrchestrator(ctx, projectPath)
}

// StopOrchestrator tears down the orchestrator session.
func (s *Service) StopOrchestrator(ctx context.Context) error {
	return s.sup.StopOrchestrator(ctx)
}

// GetOrchestratorStatus returns the persisted orchestrator status, nil when
// no orchestrator has been started.
func (s *Service) GetOrchestratorStatus() (*v1.OrchestratorStatus, error) {
	return s.store.GetOrchestratorStatus()
}
