package server

import (
	"github.com/agentmux/agentmux/internal/orchestration"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// CreateTeamRequest is the payload for POST /api/v1/teams.
type CreateTeamRequest struct {
	Name        string                     `json:"name" binding:"required"`
	Description string                     `json:"description"`
	Members     []orchestration.MemberSpec `json:"members"`
}

// StartTeamRequest is the payload for POST /api/v1/teams/:teamId/start.
type StartTeamRequest struct {
	ProjectID string `json:"projectId"`
}

// CreateProjectRequest is the payload for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// AssignTeamsRequest is the payload for PUT /api/v1/projects/:projectId/teams.
type AssignTeamsRequest struct {
	Teams map[string][]string `json:"teams" binding:"required"`
}

// RegisterAgentRequest is the payload for POST /api/v1/register.
type RegisterAgentRequest struct {
	Role        string `json:"role" binding:"required"`
	SessionName string `json:"sessionName" binding:"required"`
	MemberID    string `json:"memberId"`
}

// ScheduleMessageRequest is the payload for POST /api/v1/messages.
type ScheduleMessageRequest struct {
	Name          string       `json:"name"`
	Target        string       `json:"target" binding:"required"`
	TargetProject string       `json:"targetProject"`
	Message       string       `json:"message" binding:"required"`
	DelayAmount   int          `json:"delayAmount" binding:"required"`
	DelayUnit     v1.DelayUnit `json:"delayUnit"`
	Recurring     bool         `json:"recurring"`
}

// AssignTaskRequest is the payload for POST /api/v1/projects/:projectId/tasks/assign.
type AssignTaskRequest struct {
	TaskPath string `json:"taskPath" binding:"required"`
	MemberID string `json:"memberId" binding:"required"`
}

// TakeNextTaskRequest is the payload for POST /api/v1/projects/:projectId/tasks/next.
type TakeNextTaskRequest struct {
	MemberID string `json:"memberId" binding:"required"`
}

// BlockTaskRequest is the payload for POST /api/v1/tasks/:entryId/block.
type BlockTaskRequest struct {
	Reason string `json:"reason"`
}

// RetryStepRequest is the payload for POST /api/v1/projects/:projectId/workflow/retry.
type RetryStepRequest struct {
	Config      string `json:"config" binding:"required"`
	StepID      string `json:"stepId" binding:"required"`
	SessionName string `json:"sessionName" binding:"required"`
}

// GenerateTasksRequest is the payload for POST /api/v1/projects/:projectId/workflow/generate.
type GenerateTasksRequest struct {
	Config    string `json:"config" binding:"required"`
	Milestone string `json:"milestone" binding:"required"`
}

// StartOrchestratorRequest is the payload for POST /api/v1/orchestrator/start.
type StartOrchestratorRequest struct {
	ProjectPath string `json:"projectPath"`
}
