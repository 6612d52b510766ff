// Package events provides event types and utilities for the AgentMux event system.
package events

// Event types for teams
const (
	TeamCreated = "team.created"
	TeamStarted = "team.started"
	TeamStopped = "team.stopped"
	TeamDeleted = "team.deleted"
)

// Event types for team members
const (
	MemberActivating = "member.activating"
	MemberActive     = "member.active"
	MemberInactive   = "member.inactive"
	MemberStopped    = "member.stopped"
)

// Event types for projects
const (
	ProjectCreated       = "project.created"
	ProjectTeamsAssigned = "project.teams_assigned"
)

// Event types for tasks
const (
	TaskAssigned  = "task.assigned"
	TaskCompleted = "task.completed"
	TaskBlocked   = "task.blocked"
	TaskUnblocked = "task.unblocked"
	TaskSynced    = "task.synced"
)

// Event types for scheduled messages
const (
	MessageScheduled = "message.scheduled"
	MessageDelivered = "message.delivered"
	MessageCancelled = "message.cancelled"
)

// Event types for agent registration
const (
	AgentRegistered = "agent.registered"
)

// Event types for the activity monitor
const (
	ActivityUpdated = "activity.updated"
)

// Event types for workflow steps
const (
	WorkflowStepDelivered = "workflow.step_delivered"
	WorkflowTasksCreated  = "workflow.tasks_created"
)
