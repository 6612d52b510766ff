package workflow

import (
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Spec files read for the goal and journey placeholders, relative to the
// project directory.
const (
	initialGoalFile = ".agentmux/specs/initial_goal.md"
	userJourneyFile = ".agentmux/specs/initial_user_journey.md"
)

// Template substitutes the project placeholders in text. Substitution never
// fails: a missing spec file yields an empty value, and placeholders outside
// the known set stay literally in the output.
func Template(text string, project *v1.Project) string {
	if project == nil {
		return text
	}
	r := strings.NewReplacer(
		"{PROJECT_NAME}", project.Name,
		"{PROJECT_ID}", project.ID,
		"{PROJECT_PATH}", project.Path,
		"{INITIAL_GOAL}", readSpecFile(project.Path, initialGoalFile),
		"{USER_JOURNEY}", readSpecFile(project.Path, userJourneyFile),
	)
	return r.Replace(text)
}

func readSpecFile(projectPath, rel string) string {
	data, err := os.ReadFile(filepath.Join(projectPath, rel))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
