// Package supervisor turns team members into live, registered agents.
// It owns the progressive escalation protocol for agent initialization:
// prompt, cleanup and reinit, full recreation, fail — under one overall
// deadline, polling the registration oracle between steps.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/tmux"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// registrationMarker is the token an initialized agent prints to its pane.
// Its presence in a capture counts as registration evidence alongside the
// runtime record ping.
const registrationMarker = "AGENTMUX_READY"

// SessionDriver is the slice of the session driver the supervisor needs.
type SessionDriver interface {
	Create(ctx context.Context, role, sessionName, projectPath string) error
	CreateOrchestrator(ctx context.Context, sessionName, projectPath string) error
	Exists(ctx context.Context, sessionName string) bool
	Kill(ctx context.Context, sessionName string) (tmux.KillResult, error)
	CapturePane(ctx context.Context, sessionName string, lines int) (string, error)
	SendMessage(ctx context.Context, sessionName, text string) error
	SendKey(ctx context.Context, sessionName, key string) error
}

// Supervisor initializes agents and aggregates batch team starts.
type Supervisor struct {
	store  *storage.Store
	driver SessionDriver
	bus    bus.EventBus
	logger *logger.Logger

	timeout    time.Duration // overall escalation deadline
	poll       time.Duration // registration check cadence
	freshness  time.Duration // runtime record freshness window
	batchSize  int
	batchDelay time.Duration

	// memberMu serializes supervisor and monitor writes to the same member.
	memberMu sync.Map
}

// NewSupervisor creates a supervisor from agent configuration.
func NewSupervisor(store *storage.Store, driver SessionDriver, eventBus bus.EventBus, agent config.AgentConfig, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		store:      store,
		driver:     driver,
		bus:        eventBus,
		logger:     log.WithFields(zap.String("component", "supervisor")),
		timeout:    agent.RegistrationTimeoutDuration(),
		poll:       agent.RegistrationPollDuration(),
		freshness:  agent.RuntimeFreshnessDuration(),
		batchSize:  agent.CreateBatchSize,
		batchDelay: agent.CreateBatchDelayDuration(),
	}
	if s.timeout <= 0 {
		s.timeout = 90 * time.Second
	}
	if s.poll <= 0 {
		s.poll = 2 * time.Second
	}
	if s.freshness <= 0 {
		s.freshness = 60 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 2
	}
	return s
}

// MemberLock returns the mutex serializing writes to one member, shared with
// the activity monitor.
func (s *Supervisor) MemberLock(memberID string) *sync.Mutex {
	m, _ := s.memberMu.LoadOrStore(memberID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// StartTeamMembers initializes the given members of a team, creating sessions
// in batches of at most batchSize with a pause between batches. Per-member
// results are aggregated; a failed member never aborts the batch.
func (s *Supervisor) StartTeamMembers(ctx context.Context, teamID, projectPath string, memberIDs []string) ([]v1.MemberStartResult, error) {
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		return nil, err
	}

	var results []v1.MemberStartResult
	for start := 0; start < len(memberIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(memberIDs) {
			end = len(memberIDs)
		}
		batch := memberIDs[start:end]

		var wg sync.WaitGroup
		batchResults := make([]v1.MemberStartResult, len(batch))
		for i, memberID := range batch {
			wg.Add(1)
			go func(i int, memberID string) {
				defer wg.Done()
				batchResults[i] = s.startOne(ctx, team.ID, memberID, projectPath)
			}(i, memberID)
		}
		wg.Wait()
		results = append(results, batchResults...)

		if end < len(memberIDs) && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}
	return results, nil
}

func (s *Supervisor) startOne(ctx context.Context, teamID, memberID, projectPath string) v1.MemberStartResult {
	result := v1.MemberStartResult{MemberID: memberID}
	member, message, err := s.InitializeMember(ctx, teamID, memberID, projectPath)
	if member != nil {
		result.MemberName = member.Name
		result.SessionName = member.SessionName
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Message = message
	return result
}

// InitializeMember runs the escalation protocol for one member:
//
//  1. create the session if absent and send the role prompt
//  2. on timeout, send cancellation keys and re-send the prompt
//  3. on timeout, kill and recreate the session, re-send the prompt
//  4. report failure and mark the member inactive
//
// On success the member is active with readyAt set and the session name
// persisted; the returned message names the step that registered the agent.
func (s *Supervisor) InitializeMember(ctx context.Context, teamID, memberID, projectPath string) (*v1.TeamMember, string, error) {
	lock := s.MemberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	var member *v1.TeamMember
	var sessionName string
	team, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		m := team.Member(memberID)
		if m == nil {
			return apperrors.NotFound("team member", memberID)
		}
		sessionName = m.SessionName
		if sessionName == "" {
			sessionName = tmux.SessionName(team.Name, m.Name)
		}
		m.SetAgentStatus(v1.AgentStatusActivating)
		m.SessionName = sessionName
		m.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	member = team.Member(memberID)
	s.publish(ctx, events.MemberActivating, map[string]interface{}{
		"team_id":   teamID,
		"member_id": memberID,
		"session":   sessionName,
	})

	deadline := time.Now().Add(s.timeout)
	prompt := buildSystemPrompt(string(member.Role), projectPath, sessionName)
	log := s.logger.WithFields(
		zap.String("team_id", teamID),
		zap.String("member_id", memberID),
		zap.String("session", sessionName))

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"direct prompt", func(ctx context.Context) error {
			if err := s.driver.Create(ctx, string(member.Role), sessionName, projectPath); err != nil {
				return err
			}
			return s.driver.SendMessage(ctx, sessionName, prompt)
		}},
		{"cleanup and reinit", func(ctx context.Context) error {
			if err := s.driver.SendKey(ctx, sessionName, "Escape"); err != nil {
				return err
			}
			if err := s.driver.SendKey(ctx, sessionName, "C-c"); err != nil {
				return err
			}
			return s.driver.SendMessage(ctx, sessionName, prompt)
		}},
		{"recreation", func(ctx context.Context) error {
			if _, err := s.driver.Kill(ctx, sessionName); err != nil {
				return err
			}
			if err := s.driver.Create(ctx, string(member.Role), sessionName, projectPath); err != nil {
				return err
			}
			return s.driver.SendMessage(ctx, sessionName, prompt)
		}},
	}

	stepBudget := s.timeout / time.Duration(len(steps))
	for i, step := range steps {
		if time.Now().After(deadline) {
			break
		}
		log.Info("Initialization step", zap.Int("attempt", i+1), zap.String("step", step.name))
		if err := step.run(ctx); err != nil {
			log.Warn("Initialization step failed", zap.String("step", step.name), zap.Error(err))
			continue
		}

		stepDeadline := time.Now().Add(stepBudget)
		if stepDeadline.After(deadline) || i == len(steps)-1 {
			stepDeadline = deadline
		}
		if s.waitForRegistration(ctx, string(member.Role), sessionName, stepDeadline) {
			message := fmt.Sprintf("registered via %s", step.name)
			saved, err := s.markRegistered(ctx, teamID, memberID, sessionName, message)
			if err != nil {
				return member, "", err
			}
			return saved, message, nil
		}
	}

	s.markFailed(ctx, teamID, memberID)
	return member, "", apperrors.Timeout(fmt.Sprintf("agent '%s' failed to initialize within %s", member.Name, s.timeout))
}

// waitForRegistration polls the registration oracle until the deadline:
// a runtime record for the role inside the freshness window, or the
// registration marker in the pane capture.
func (s *Supervisor) waitForRegistration(ctx context.Context, role, sessionName string, deadline time.Time) bool {
	for {
		if s.isRegistered(ctx, role, sessionName) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.poll):
		}
	}
}

func (s *Supervisor) isRegistered(ctx context.Context, role, sessionName string) bool {
	if rec, err := s.store.GetRuntimeRecord(role); err == nil && rec != nil {
		if rec.SessionID == sessionName && time.Since(rec.RegisteredAt) <= s.freshness {
			return true
		}
	}
	capture, err := s.driver.CapturePane(ctx, sessionName, 0)
	if err == nil && strings.Contains(capture, registrationMarker) {
		return true
	}
	return false
}

func (s *Supervisor) markRegistered(ctx context.Context, teamID, memberID, sessionName, message string) (*v1.TeamMember, error) {
	team, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		member := team.Member(memberID)
		if member == nil {
			return apperrors.NotFound("team member", memberID)
		}
		now := time.Now().UTC()
		member.SetAgentStatus(v1.AgentStatusActive)
		member.SessionName = sessionName
		member.ReadyAt = &now
		member.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.MemberActive, map[string]interface{}{
		"team_id":   teamID,
		"member_id": memberID,
		"session":   sessionName,
		"message":   message,
	})
	s.logger.Info("Agent registered",
		zap.String("member_id", memberID),
		zap.String("session", sessionName),
		zap.String("via", message))
	return team.Member(memberID), nil
}

func (s *Supervisor) markFailed(ctx context.Context, teamID, memberID string) {
	_, err := s.store.UpdateTeam(teamID, func(team *v1.Team) error {
		member := team.Member(memberID)
		if member == nil {
			return apperrors.NotFound("team member", memberID)
		}
		member.SetAgentStatus(v1.AgentStatusInactive)
		member.WorkingStatus = v1.WorkingStatusIdle
		member.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist member failure", zap.Error(err))
		return
	}
	s.publish(ctx, events.MemberInactive, map[string]interface{}{
		"team_id":   teamID,
		"member_id": memberID,
	})
}

// StartOrchestrator creates the singleton orchestrator session. A second
// start while the session is alive is a conflict.
func (s *Supervisor) StartOrchestrator(ctx context.Context, projectPath string) (*v1.OrchestratorStatus, error) {
	if s.driver.Exists(ctx, v1.OrchestratorSessionName) {
		return nil, apperrors.Conflict("orchestrator session already running")
	}
	if err := s.driver.CreateOrchestrator(ctx, v1.OrchestratorSessionName, projectPath); err != nil {
		return nil, err
	}
	prompt := buildSystemPrompt(string(v1.RoleOrchestrator), projectPath, v1.OrchestratorSessionName)
	if err := s.driver.SendMessage(ctx, v1.OrchestratorSessionName, prompt); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := &v1.OrchestratorStatus{
		SessionID:     v1.OrchestratorSessionName,
		AgentStatus:   v1.AgentStatusActivating,
		Status:        v1.AgentStatusActivating,
		WorkingStatus: v1.WorkingStatusIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.SaveOrchestratorStatus(status); err != nil {
		return nil, err
	}
	return status, nil
}

// StopOrchestrator kills the orchestrator session and clears its status.
func (s *Supervisor) StopOrchestrator(ctx context.Context) error {
	if _, err := s.driver.Kill(ctx, v1.OrchestratorSessionName); err != nil {
		return err
	}
	return s.store.SaveOrchestratorStatus(&v1.OrchestratorStatus{})
}

func (s *Supervisor) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "supervisor", data)); err != nil {
		s.logger.Debug("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
