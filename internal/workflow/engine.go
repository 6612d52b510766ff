// Package workflow drives prompt-based project workflows from JSON step
// configurations. Two configurations are recognized by convention: one
// that walks the orchestrator through producing specifications, and one
// that turns specifications into task files.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/taskfolder"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Conventional config file names, resolved under the engine's config dir.
const (
	BuildSpecConfig  = "build_spec_prompt.json"
	BuildTasksConfig = "build_tasks_prompt.json"
)

// Step is one unit of a workflow configuration.
type Step struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	DelayMinutes int           `json:"delayMinutes,omitempty"`
	TargetRole   string        `json:"targetRole,omitempty"`
	Prompts      []string      `json:"prompts"`
	Verification *Verification `json:"verification,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
}

// Verification names the artifacts a step is expected to produce. Paths are
// relative to the project directory.
type Verification struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths"`
}

// Config is an ordered workflow definition.
type Config struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// SessionSender is the slice of the session driver the engine needs.
type SessionSender interface {
	Exists(ctx context.Context, sessionName string) bool
	SendMessage(ctx context.Context, sessionName, text string) error
}

// Engine loads workflow configs and executes their steps.
type Engine struct {
	configDir string
	sender    SessionSender
	folders   *taskfolder.Store
	bus       bus.EventBus
	logger    *logger.Logger
}

// NewEngine creates a workflow engine reading configs from configDir.
func NewEngine(configDir string, sender SessionSender, folders *taskfolder.Store, eventBus bus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		configDir: configDir,
		sender:    sender,
		folders:   folders,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "workflow")),
	}
}

// LoadConfig reads and parses a workflow configuration by file name.
func (e *Engine) LoadConfig(name string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(e.configDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("workflow config", name)
		}
		return nil, apperrors.StorageError("failed to read workflow config", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("workflow config '%s' is not valid JSON: %v", name, err))
	}
	return &cfg, nil
}

// RetryStep resolves a step by id, templates it against the project, joins
// its prompts with blank lines, and delivers the result to the session once.
func (e *Engine) RetryStep(ctx context.Context, configName, stepID, sessionName string, project *v1.Project) error {
	cfg, err := e.LoadConfig(configName)
	if err != nil {
		return err
	}
	step := cfg.findStep(stepID)
	if step == nil {
		return apperrors.NotFound("workflow step", stepID)
	}
	if !e.sender.Exists(ctx, sessionName) {
		return apperrors.SessionUnavailable(sessionName)
	}

	prompt := Template(strings.Join(step.Prompts, "\n\n"), project)
	if err := e.sender.SendMessage(ctx, sessionName, prompt); err != nil {
		return apperrors.DeliveryFailed(sessionName, err)
	}

	e.publish(ctx, events.WorkflowStepDelivered, map[string]interface{}{
		"config":  configName,
		"step_id": stepID,
		"session": sessionName,
	})
	e.logger.Info("Delivered workflow step",
		zap.String("config", configName),
		zap.String("step_id", stepID),
		zap.String("session", sessionName))
	return nil
}

func (c *Config) findStep(stepID string) *Step {
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			return &c.Steps[i]
		}
	}
	return nil
}

// GeneratedTask describes one task file produced by GenerateTasks.
type GeneratedTask struct {
	Path       string `json:"path"`
	StepID     string `json:"stepId"`
	TargetRole string `json:"targetRole"`
}

// GenerateTasks synthesizes one markdown task per step of a configuration
// and writes them to the milestone's open folder. The returned entries are
// what the orchestrator queues for assignment by role.
func (e *Engine) GenerateTasks(ctx context.Context, configName, milestone string, project *v1.Project) ([]GeneratedTask, error) {
	cfg, err := e.LoadConfig(configName)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.InvalidInput("project is required")
	}

	var generated []GeneratedTask
	for i, step := range cfg.Steps {
		role := step.TargetRole
		if role == "" {
			role = string(v1.RoleDeveloper)
		}
		fileName := fmt.Sprintf("%02d_%s_%s.md", i+1, slugify(step.Name), role)

		fm := v1.TaskFrontmatter{
			ID:           fmt.Sprintf("%s-%s", project.ID, step.ID),
			Title:        step.Name,
			Status:       v1.TaskStatusOpen,
			Priority:     v1.TaskPriorityMedium,
			TargetRole:   role,
			Dependencies: step.Dependencies,
			MilestoneID:  milestone,
		}
		body := e.renderTaskBody(&step, project)

		path, err := e.folders.WriteTask(project.Path, milestone, v1.TaskStatusOpen, fileName, fm, body)
		if err != nil {
			return generated, err
		}
		generated = append(generated, GeneratedTask{Path: path, StepID: step.ID, TargetRole: role})
	}

	e.publish(ctx, events.WorkflowTasksCreated, map[string]interface{}{
		"config":     configName,
		"project_id": project.ID,
		"milestone":  milestone,
		"count":      len(generated),
	})
	e.logger.Info("Generated workflow tasks",
		zap.String("config", configName),
		zap.String("milestone", milestone),
		zap.Int("count", len(generated)))
	return generated, nil
}

func (e *Engine) renderTaskBody(step *Step, project *v1.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", step.Name)
	b.WriteString(Template(strings.Join(step.Prompts, "\n\n"), project))
	if step.Verification != nil && len(step.Verification.Paths) > 0 {
		b.WriteString("\n\n## Acceptance Criteria\n\n")
		for _, p := range step.Verification.Paths {
			fmt.Fprintf(&b, "- [ ] `%s` exists and is complete\n", p)
		}
	}
	return b.String()
}

// NextGatedStep returns the first step whose verification artifacts are not
// all present under the project directory, or nil when every step is
// satisfied. This is the file-gated selection rule used by the TPM workflow.
func (e *Engine) NextGatedStep(configName string, project *v1.Project) (*Step, error) {
	cfg, err := e.LoadConfig(configName)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		if step.Verification == nil {
			continue
		}
		for _, rel := range step.Verification.Paths {
			if _, err := os.Stat(filepath.Join(project.Path, rel)); os.IsNotExist(err) {
				return step, nil
			}
		}
	}
	return nil, nil
}

// DeliverNextGatedStep delivers the prompt of the first unsatisfied step to
// the session. It reports done when every step's artifacts already exist.
// Callers re-invoke it on a recurring cadence until done.
func (e *Engine) DeliverNextGatedStep(ctx context.Context, configName, sessionName string, project *v1.Project) (bool, error) {
	step, err := e.NextGatedStep(configName, project)
	if err != nil {
		return false, err
	}
	if step == nil {
		return true, nil
	}
	if !e.sender.Exists(ctx, sessionName) {
		return false, apperrors.SessionUnavailable(sessionName)
	}
	prompt := Template(strings.Join(step.Prompts, "\n\n"), project)
	if err := e.sender.SendMessage(ctx, sessionName, prompt); err != nil {
		return false, apperrors.DeliveryFailed(sessionName, err)
	}
	e.publish(ctx, events.WorkflowStepDelivered, map[string]interface{}{
		"config":  configName,
		"step_id": step.ID,
		"session": sessionName,
		"gated":   true,
	})
	return false, nil
}

func (e *Engine) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "workflow", data)); err != nil {
		e.logger.Debug("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
