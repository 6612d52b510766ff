package taskfolder

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

const frontmatterDelimiter = "---"

// ParseFrontmatter splits a task markdown document into its YAML header and
// body. A document without a frontmatter block yields a zero frontmatter and
// the full content as body; a malformed header is an error.
func ParseFrontmatter(content []byte) (v1.TaskFrontmatter, string, error) {
	var fm v1.TaskFrontmatter
	text := string(content)

	if !strings.HasPrefix(text, frontmatterDelimiter) {
		return fm, text, nil
	}

	rest := text[len(frontmatterDelimiter):]
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return fm, text, fmt.Errorf("unterminated frontmatter block")
	}

	header := rest[:end]
	body := rest[end+len(frontmatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, text, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if fm.Priority == "" {
		fm.Priority = v1.TaskPriorityMedium
	}
	return fm, body, nil
}

// RenderTask assembles a task markdown document from frontmatter and body.
func RenderTask(fm v1.TaskFrontmatter, body string) ([]byte, error) {
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(frontmatterDelimiter)
	sb.WriteString("\n")
	sb.Write(header)
	sb.WriteString(frontmatterDelimiter)
	sb.WriteString("\n\n")
	sb.WriteString(body)
	return []byte(sb.String()), nil
}

// RoleFromFileName extracts the optional role suffix from a task file name,
// e.g. "01_build_login_developer.md" yields "developer". Returns "" when the
// trailing segment is not a known role.
func RoleFromFileName(fileName string) string {
	name := strings.TrimSuffix(fileName, ".md")
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return ""
	}
	suffix := name[idx+1:]
	if v1.Role(suffix).IsValid() {
		return suffix
	}
	return ""
}
