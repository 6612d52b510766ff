package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/taskfolder"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

type fakeSender struct {
	mu       sync.Mutex
	sessions map[string]bool
	sends    []string // "session|text"
}

func (f *fakeSender) Exists(ctx context.Context, sessionName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionName]
}

func (f *fakeSender) SendMessage(ctx context.Context, sessionName, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sessionName+"|"+text)
	return nil
}

const testConfig = `{
  "name": "build specs",
  "steps": [
    {
      "id": "goal",
      "name": "Capture Goal",
      "prompts": ["Record the goal of {PROJECT_NAME}.", "Goal: {INITIAL_GOAL}"],
      "verification": {"type": "file", "paths": [".agentmux/specs/initial_goal.md"]}
    },
    {
      "id": "journey",
      "name": "User Journey",
      "targetRole": "tpm",
      "prompts": ["Write the user journey for {PROJECT_NAME} under {PROJECT_PATH}."],
      "verification": {"type": "file", "paths": [".agentmux/specs/initial_user_journey.md"]},
      "dependencies": ["goal"]
    }
  ]
}`

func newTestEngine(t *testing.T) (*Engine, *fakeSender, string) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, BuildSpecConfig), []byte(testConfig), 0644))
	sender := &fakeSender{sessions: make(map[string]bool)}
	return NewEngine(configDir, sender, taskfolder.NewStore(log), nil, log), sender, configDir
}

func testProject(t *testing.T) *v1.Project {
	return &v1.Project{ID: "p1", Name: "demo", Path: t.TempDir()}
}

func TestLoadConfigMissingIsNotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.LoadConfig("no_such.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestRetryStepTemplatesAndDelivers(t *testing.T) {
	eng, sender, _ := newTestEngine(t)
	project := testProject(t)
	specs := filepath.Join(project.Path, ".agentmux", "specs")
	require.NoError(t, os.MkdirAll(specs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(specs, "initial_goal.md"), []byte("ship it\n"), 0644))
	sender.sessions[v1.OrchestratorSessionName] = true

	require.NoError(t, eng.RetryStep(context.Background(), BuildSpecConfig, "goal", v1.OrchestratorSessionName, project))

	require.Len(t, sender.sends, 1)
	text := sender.sends[0]
	assert.Contains(t, text, "Record the goal of demo.")
	assert.Contains(t, text, "Goal: ship it")
	// Prompts are joined with a blank line.
	assert.Contains(t, text, ".\n\nGoal:")
}

func TestRetryStepDeadSessionFails(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.RetryStep(context.Background(), BuildSpecConfig, "goal", "gone-session", testProject(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_UNAVAILABLE")
}

func TestRetryStepUnknownStep(t *testing.T) {
	eng, sender, _ := newTestEngine(t)
	sender.sessions["s"] = true
	err := eng.RetryStep(context.Background(), BuildSpecConfig, "nope", "s", testProject(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestTemplateLeavesUnknownPlaceholders(t *testing.T) {
	project := &v1.Project{ID: "p1", Name: "demo", Path: "/nonexistent"}
	out := Template("{PROJECT_NAME} {UNKNOWN} {INITIAL_GOAL}end", project)
	// Missing spec file substitutes empty; unknown placeholders stay literal.
	assert.Equal(t, "demo {UNKNOWN} end", out)
}

func TestGenerateTasksWritesOpenFolder(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	project := testProject(t)

	generated, err := eng.GenerateTasks(context.Background(), BuildSpecConfig, "m0_specs", project)
	require.NoError(t, err)
	require.Len(t, generated, 2)
	assert.Equal(t, "goal", generated[0].StepID)
	assert.Equal(t, "developer", generated[0].TargetRole) // default role
	assert.Equal(t, "tpm", generated[1].TargetRole)

	tasks, err := taskfolder.NewStore(log).ListAllTasks(project.Path, taskfolder.Filter{Status: v1.TaskStatusOpen})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Capture Goal", tasks[0].Title)
	assert.Equal(t, "m0_specs", tasks[0].Milestone)

	content, err := os.ReadFile(generated[1].Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "## Acceptance Criteria")
	assert.Contains(t, string(content), ".agentmux/specs/initial_user_journey.md")
}

func TestNextGatedStepWalksVerificationFiles(t *testing.T) {
	eng, sender, _ := newTestEngine(t)
	project := testProject(t)
	sender.sessions["tpm-session"] = true
	ctx := context.Background()

	// Nothing exists: the first step gates.
	step, err := eng.NextGatedStep(BuildSpecConfig, project)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, "goal", step.ID)

	done, err := eng.DeliverNextGatedStep(ctx, BuildSpecConfig, "tpm-session", project)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, sender.sends, 1)

	// Goal file appears: the second step gates.
	specs := filepath.Join(project.Path, ".agentmux", "specs")
	require.NoError(t, os.MkdirAll(specs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(specs, "initial_goal.md"), []byte("g"), 0644))

	step, err = eng.NextGatedStep(BuildSpecConfig, project)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, "journey", step.ID)

	// All files exist: done.
	require.NoError(t, os.WriteFile(filepath.Join(specs, "initial_user_journey.md"), []byte("j"), 0644))
	done, err = eng.DeliverNextGatedStep(ctx, BuildSpecConfig, "tpm-session", project)
	require.NoError(t, err)
	assert.True(t, done)
}
