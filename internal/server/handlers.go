package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/orchestration"
	"github.com/agentmux/agentmux/internal/storage"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Handler contains HTTP handlers for the orchestration API
type Handler struct {
	service *orchestration.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc *orchestration.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log,
	}
}

// SetupRoutes configures the orchestration API routes
func SetupRoutes(router *gin.RouterGroup, svc *orchestration.Service, log *logger.Logger) {
	handler := NewHandler(svc, log)

	router.POST("/register", handler.RegisterAgent)

	teams := router.Group("/teams")
	{
		teams.POST("", handler.CreateTeam)
		teams.GET("", handler.ListTeams)
		teams.GET("/:teamId", handler.GetTeam)
		teams.DELETE("/:teamId", handler.DeleteTeam)
		teams.POST("/:teamId/start", handler.StartTeam)
		teams.POST("/:teamId/stop", handler.StopTeam)
		teams.POST("/:teamId/members/:memberId/start", handler.StartTeamMember)
		teams.POST("/:teamId/members/:memberId/stop", handler.StopTeamMember)
	}

	projects := router.Group("/projects")
	{
		projects.POST("", handler.CreateProject)
		projects.GET("", handler.ListProjects)
		projects.GET("/:projectId", handler.GetProject)
		projects.DELETE("/:projectId", handler.DeleteProject)
		projects.PUT("/:projectId/teams", handler.AssignTeams)
		projects.POST("/:projectId/tasks/assign", handler.AssignTask)
		projects.POST("/:projectId/tasks/next", handler.TakeNextTask)
		projects.POST("/:projectId/tasks/sync", handler.SyncTasks)
		projects.GET("/:projectId/tasks/in-progress", handler.ListInProgress)
		projects.GET("/:projectId/tickets", handler.ListTickets)
		projects.POST("/:projectId/workflow/retry", handler.RetryWorkflowStep)
		projects.POST("/:projectId/workflow/generate", handler.GenerateWorkflowTasks)
	}

	tasks := router.Group("/tasks")
	{
		tasks.POST("/:entryId/complete", handler.CompleteTask)
		tasks.POST("/:entryId/block", handler.BlockTask)
		tasks.POST("/:entryId/unblock", handler.UnblockTask)
	}

	messages := router.Group("/messages")
	{
		messages.POST("", handler.ScheduleMessage)
		messages.GET("", handler.ListMessages)
		messages.DELETE("/:messageId", handler.CancelMessage)
		messages.GET("/deliveries", handler.ListDeliveries)
	}

	orchestrator := router.Group("/orchestrator")
	{
		orchestrator.GET("/status", handler.OrchestratorStatus)
		orchestrator.POST("/start", handler.StartOrchestrator)
		orchestrator.POST("/stop", handler.StopOrchestrator)
	}
}

// HealthCheck reports service health
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "agentmux",
	})
}

// RegisterAgent records an agent registration ping
// POST /api/v1/register
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	if err := h.service.RegisterAgent(c.Request.Context(), req.Role, req.SessionName, req.MemberID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("agent registered", nil))
}

// Team endpoints

// CreateTeam creates a new team
// POST /api/v1/teams
func (h *Handler) CreateTeam(c *gin.Context) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	team, err := h.service.CreateTeam(c.Request.Context(), req.Name, req.Description, req.Members)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

// ListTeams returns all teams
// GET /api/v1/teams
func (h *Handler) ListTeams(c *gin.Context) {
	teams, err := h.service.GetTeams()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams, "total": len(teams)})
}

// GetTeam retrieves a team by ID
// GET /api/v1/teams/:teamId
func (h *Handler) GetTeam(c *gin.Context) {
	team, err := h.service.GetTeam(c.Param("teamId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

// DeleteTeam stops and removes a team
// DELETE /api/v1/teams/:teamId
func (h *Handler) DeleteTeam(c *gin.Context) {
	if err := h.service.DeleteTeam(c.Request.Context(), c.Param("teamId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartTeam initializes every member of a team
// POST /api/v1/teams/:teamId/start
func (h *Handler) StartTeam(c *gin.Context) {
	var req StartTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	results, err := h.service.StartTeam(c.Request.Context(), c.Param("teamId"), req.ProjectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// StopTeam kills every member session of a team
// POST /api/v1/teams/:teamId/stop
func (h *Handler) StopTeam(c *gin.Context) {
	result, err := h.service.StopTeam(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartTeamMember initializes a single member
// POST /api/v1/teams/:teamId/members/:memberId/start
func (h *Handler) StartTeamMember(c *gin.Context) {
	result, err := h.service.StartTeamMember(c.Request.Context(), c.Param("teamId"), c.Param("memberId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StopTeamMember kills a single member session
// POST /api/v1/teams/:teamId/members/:memberId/stop
func (h *Handler) StopTeamMember(c *gin.Context) {
	if err := h.service.StopTeamMember(c.Request.Context(), c.Param("teamId"), c.Param("memberId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("member stopped", nil))
}

// Project endpoints

// CreateProject registers a project directory
// POST /api/v1/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	project, err := h.service.CreateProject(c.Request.Context(), req.Name, req.Path)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// ListProjects returns all projects
// GET /api/v1/projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.service.GetProjects()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

// GetProject retrieves a project by ID
// GET /api/v1/projects/:projectId
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.service.GetProject(c.Param("projectId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject removes a project record
// DELETE /api/v1/projects/:projectId
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.service.DeleteProject(c.Request.Context(), c.Param("projectId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignTeams replaces a project's role-to-teams map
// PUT /api/v1/projects/:projectId/teams
func (h *Handler) AssignTeams(c *gin.Context) {
	var req AssignTeamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	project, err := h.service.AssignTeamsToProject(c.Request.Context(), c.Param("projectId"), req.Teams)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// Task endpoints

// AssignTask moves a task file to in_progress for a member
// POST /api/v1/projects/:projectId/tasks/assign
func (h *Handler) AssignTask(c *gin.Context) {
	var req AssignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	entry, err := h.service.AssignTask(c.Request.Context(), c.Param("projectId"), req.TaskPath, req.MemberID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// TakeNextTask assigns the next open task to a member
// POST /api/v1/projects/:projectId/tasks/next
func (h *Handler) TakeNextTask(c *gin.Context) {
	var req TakeNextTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	entry, err := h.service.TakeNextTask(c.Request.Context(), c.Param("projectId"), req.MemberID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusOK, v1.OKResult("no open tasks", nil))
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// SyncTasks reconciles the registry with the task tree
// POST /api/v1/projects/:projectId/tasks/sync
func (h *Handler) SyncTasks(c *gin.Context) {
	report, err := h.service.SyncTaskStatus(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListInProgress returns a project's registry entries
// GET /api/v1/projects/:projectId/tasks/in-progress
func (h *Handler) ListInProgress(c *gin.Context) {
	entries := h.service.GetInProgressTasks(c.Param("projectId"))
	c.JSON(http.StatusOK, gin.H{"tasks": entries, "total": len(entries)})
}

// ListTickets scans a project's task tree, optionally filtered by
// milestone, status, and target role query params
// GET /api/v1/projects/:projectId/tickets
func (h *Handler) ListTickets(c *gin.Context) {
	filter := storage.TicketFilter{
		Milestone:  c.Query("milestone"),
		Status:     v1.TaskStatus(c.Query("status")),
		TargetRole: c.Query("role"),
	}
	tickets, err := h.service.GetTickets(c.Param("projectId"), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "total": len(tickets)})
}

// CompleteTask moves a task to done and drops its entry
// POST /api/v1/tasks/:entryId/complete
func (h *Handler) CompleteTask(c *gin.Context) {
	if err := h.service.CompleteTask(c.Request.Context(), c.Param("entryId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("task completed", nil))
}

// BlockTask moves a task to blocked with a reason
// POST /api/v1/tasks/:entryId/block
func (h *Handler) BlockTask(c *gin.Context) {
	var req BlockTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	if err := h.service.BlockTask(c.Request.Context(), c.Param("entryId"), req.Reason); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("task blocked", nil))
}

// UnblockTask moves a blocked task back to in_progress
// POST /api/v1/tasks/:entryId/unblock
func (h *Handler) UnblockTask(c *gin.Context) {
	if err := h.service.UnblockTask(c.Request.Context(), c.Param("entryId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("task unblocked", nil))
}

// Scheduled message endpoints

// ScheduleMessage arms a delayed or recurring delivery
// POST /api/v1/messages
func (h *Handler) ScheduleMessage(c *gin.Context) {
	var req ScheduleMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	msg, err := h.service.ScheduleMessage(c.Request.Context(), &v1.ScheduledMessage{
		Name:          req.Name,
		Target:        req.Target,
		TargetProject: req.TargetProject,
		Message:       req.Message,
		DelayAmount:   req.DelayAmount,
		DelayUnit:     req.DelayUnit,
		Recurring:     req.Recurring,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns all scheduled messages
// GET /api/v1/messages
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.service.GetScheduledMessages()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

// CancelMessage cancels a scheduled delivery
// DELETE /api/v1/messages/:messageId
func (h *Handler) CancelMessage(c *gin.Context) {
	if err := h.service.CancelMessage(c.Request.Context(), c.Param("messageId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeliveries returns the delivery log
// GET /api/v1/messages/deliveries
func (h *Handler) ListDeliveries(c *gin.Context) {
	logs, err := h.service.GetDeliveryLogs()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": logs, "total": len(logs)})
}

// Workflow endpoints

// RetryWorkflowStep re-delivers one workflow step
// POST /api/v1/projects/:projectId/workflow/retry
func (h *Handler) RetryWorkflowStep(c *gin.Context) {
	var req RetryStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	if err := h.service.RetryWorkflowStep(c.Request.Context(), c.Param("projectId"), req.Config, req.StepID, req.SessionName); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("step delivered", nil))
}

// GenerateWorkflowTasks synthesizes task files from a workflow config
// POST /api/v1/projects/:projectId/workflow/generate
func (h *Handler) GenerateWorkflowTasks(c *gin.Context) {
	var req GenerateTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	generated, err := h.service.GenerateWorkflowTasks(c.Request.Context(), c.Param("projectId"), req.Config, req.Milestone)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tasks": generated, "total": len(generated)})
}

// Orchestrator endpoints

// OrchestratorStatus returns the orchestrator singleton status
// GET /api/v1/orchestrator/status
func (h *Handler) OrchestratorStatus(c *gin.Context) {
	status, err := h.service.GetOrchestratorStatus()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if status == nil {
		respondError(c, h.logger, errors.NotFound("orchestrator", v1.OrchestratorSessionName))
		return
	}
	c.JSON(http.StatusOK, status)
}

// StartOrchestrator creates the orchestrator session
// POST /api/v1/orchestrator/start
func (h *Handler) StartOrchestrator(c *gin.Context) {
	var req StartOrchestratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.InvalidInput(err.Error()))
		return
	}
	status, err := h.service.StartOrchestrator(c.Request.Context(), req.ProjectPath)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, status)
}

// StopOrchestrator tears down the orchestrator session
// POST /api/v1/orchestrator/stop
func (h *Handler) StopOrchestrator(c *gin.Context) {
	if err := h.service.StopOrchestrator(c.Request.Context()); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v1.OKResult("orchestrator stopped", nil))
}
