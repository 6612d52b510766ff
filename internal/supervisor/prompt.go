package supervisor

import (
	"fmt"
	"strings"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// roleInstructions holds the per-role portion of the system prompt.
var roleInstructions = map[v1.Role]string{
	v1.RoleOrchestrator:      "You coordinate all teams on this project. Assign tasks by role, monitor progress, and unblock agents. Never write code yourself.",
	v1.RoleTPM:               "You own the specification. Produce and refine spec documents under .agentmux/specs before any implementation starts.",
	v1.RolePGM:               "You track milestones and task flow. Keep the task folders consistent and report slippage to the orchestrator.",
	v1.RoleDeveloper:         "You implement tasks assigned to you. Work only on your current task file, commit frequently, and move the task to done when complete.",
	v1.RoleFrontendDeveloper: "You implement frontend tasks assigned to you. Follow the project's component conventions and commit frequently.",
	v1.RoleBackendDeveloper:  "You implement backend tasks assigned to you. Follow the project's API conventions and commit frequently.",
	v1.RoleQA:                "You verify completed tasks against their acceptance criteria and file blockers for regressions.",
	v1.RoleTester:            "You write and run tests for completed tasks and report failures with reproduction steps.",
	v1.RoleDesigner:          "You produce design notes and review UI tasks for consistency.",
}

// buildSystemPrompt constructs the initialization prompt sent to a fresh
// session. The agent is expected to register through the HTTP endpoint and
// echo the readiness marker.
func buildSystemPrompt(role, projectPath, sessionName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent in session %s.\n", role, sessionName)
	if projectPath != "" {
		fmt.Fprintf(&b, "Project path: %s\n", projectPath)
	}
	if instr, ok := roleInstructions[v1.Role(role)]; ok {
		b.WriteString(instr)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "First, register yourself: POST {\"role\": %q, \"sessionName\": %q} to the /api/v1/register endpoint, then print %s on its own line.",
		role, sessionName, registrationMarker)
	return b.String()
}
