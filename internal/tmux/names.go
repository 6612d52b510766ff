package tmux

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// SessionName derives a unique session name from a team and member name:
// lowercased slugs joined by hyphens plus an 8-hex suffix, e.g.
// "alpha-dev-a-1f2e3d4c".
func SessionName(teamName, memberName string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return slug(teamName) + "-" + slug(memberName) + "-" + suffix
}

// slug lowercases a name and collapses anything non-alphanumeric to hyphens.
func slug(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	out := sb.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	return strings.Trim(out, "-")
}
