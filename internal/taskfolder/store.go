// Package taskfolder implements the on-disk state machine for task markdown
// files. Each milestone directory under `<project>/.agentmux/tasks/` holds the
// four status folders open/in_progress/done/blocked; moving a task between
// statuses is an atomic rename within the tree.
package taskfolder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// tasksSubdir is the task tree root relative to a project path.
const tasksSubdir = ".agentmux/tasks"

// milestoneRe matches milestone directory names like "m0_specs".
var milestoneRe = regexp.MustCompile(`^m\d+_.+`)

// Store navigates and mutates a project's task tree.
type Store struct {
	logger *logger.Logger
}

// NewStore creates a task-folder store.
func NewStore(log *logger.Logger) *Store {
	return &Store{logger: log.WithFields(zap.String("component", "taskfolder"))}
}

// TasksDir returns the task tree root for a project.
func TasksDir(projectPath string) string {
	return filepath.Join(projectPath, ".agentmux", "tasks")
}

// taskLocation is a parsed task file path.
type taskLocation struct {
	tasksRoot string
	milestone string
	status    v1.TaskStatus
	fileName  string
}

// parseTaskPath validates that p points inside some `.agentmux/tasks/
// <milestone>/<status>/` folder and decomposes it. Paths escaping the tree
// (traversal) or with unknown segments are rejected.
func parseTaskPath(p string) (*taskLocation, error) {
	clean := filepath.Clean(p)
	sep := string(filepath.Separator)
	marker := sep + filepath.FromSlash(tasksSubdir) + sep

	idx := strings.LastIndex(clean, marker)
	if idx < 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("path '%s' is not inside a task tree", p))
	}

	root := clean[:idx+len(marker)-1]
	rest := clean[idx+len(marker):]
	parts := strings.Split(rest, sep)
	if len(parts) != 3 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("path '%s' is not a task file path", p))
	}

	milestone, status, fileName := parts[0], v1.TaskStatus(parts[1]), parts[2]
	if !milestoneRe.MatchString(milestone) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("'%s' is not a milestone folder", milestone))
	}
	if !status.IsValid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("'%s' is not a task status folder", parts[1]))
	}
	if fileName == "" || strings.Contains(fileName, "..") {
		return nil, apperrors.InvalidInput("invalid task file name")
	}

	return &taskLocation{
		tasksRoot: root,
		milestone: milestone,
		status:    status,
		fileName:  fileName,
	}, nil
}

// EnsureMilestoneFolders creates the four status folders for a milestone.
func (s *Store) EnsureMilestoneFolders(projectPath, milestone string) error {
	if !milestoneRe.MatchString(milestone) {
		return apperrors.InvalidInput(fmt.Sprintf("'%s' is not a valid milestone name", milestone))
	}
	base := filepath.Join(TasksDir(projectPath), milestone)
	for _, status := range v1.ValidTaskStatuses {
		if err := os.MkdirAll(filepath.Join(base, string(status)), 0755); err != nil {
			return apperrors.StorageError("failed to create milestone folders", err)
		}
	}
	return nil
}

// MoveTaskToStatus moves a task file into the target status folder of its
// milestone and returns the new path. Moving into the current status is a
// no-op returning the original path; a missing source fails with NotFound.
func (s *Store) MoveTaskToStatus(currentPath string, targetStatus v1.TaskStatus) (string, error) {
	if !targetStatus.IsValid() {
		return "", apperrors.InvalidInput(fmt.Sprintf("'%s' is not a task status", targetStatus))
	}

	loc, err := parseTaskPath(currentPath)
	if err != nil {
		return "", err
	}
	if loc.status == targetStatus {
		return currentPath, nil
	}

	if _, err := os.Stat(currentPath); err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NotFound("task file", currentPath)
		}
		return "", apperrors.MoveFailed("failed to stat task file", err)
	}

	targetDir := filepath.Join(loc.tasksRoot, loc.milestone, string(targetStatus))
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", apperrors.MoveFailed("failed to create target folder", err)
	}

	newPath := filepath.Join(targetDir, loc.fileName)
	if err := os.Rename(currentPath, newPath); err != nil {
		// Rename can fail across filesystems; fall back to copy+delete.
		if copyErr := copyFile(currentPath, newPath); copyErr != nil {
			return "", apperrors.MoveFailed("failed to move task file", err)
		}
		if rmErr := os.Remove(currentPath); rmErr != nil {
			os.Remove(newPath)
			return "", apperrors.MoveFailed("failed to remove source after copy", rmErr)
		}
	}

	// Verify the move landed.
	if _, err := os.Stat(newPath); err != nil {
		return "", apperrors.MoveFailed("move verification failed", err)
	}

	s.logger.Info("Moved task",
		zap.String("file", loc.fileName),
		zap.String("milestone", loc.milestone),
		zap.String("from", string(loc.status)),
		zap.String("to", string(targetStatus)))
	return newPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// Milestones lists milestone directories of a project, sorted by name.
func (s *Store) Milestones(projectPath string) ([]string, error) {
	entries, err := os.ReadDir(TasksDir(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read task tree", err)
	}
	var milestones []string
	for _, e := range entries {
		if e.IsDir() && milestoneRe.MatchString(e.Name()) {
			milestones = append(milestones, e.Name())
		}
	}
	sort.Strings(milestones)
	return milestones, nil
}

// ListTasks enumerates the task files of one milestone status folder, ordered
// by file name (the numeric prefix convention makes this the task order).
func (s *Store) ListTasks(projectPath, milestone string, status v1.TaskStatus) ([]v1.TaskFileInfo, error) {
	dir := filepath.Join(TasksDir(projectPath), milestone, string(status))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read status folder", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tasks := make([]v1.TaskFileInfo, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info := v1.TaskFileInfo{
			Path:      path,
			FileName:  name,
			Milestone: milestone,
			Status:    status,
			Priority:  v1.TaskPriorityMedium,
		}
		if content, err := os.ReadFile(path); err == nil {
			if fm, _, err := ParseFrontmatter(content); err == nil {
				info.ID = fm.ID
				info.Title = fm.Title
				info.TargetRole = fm.TargetRole
				info.MilestoneID = fm.MilestoneID
				if fm.Priority != "" {
					info.Priority = fm.Priority
				}
			}
		}
		if info.TargetRole == "" {
			info.TargetRole = RoleFromFileName(name)
		}
		tasks = append(tasks, info)
	}
	return tasks, nil
}

// Filter narrows ListAllTasks results. Zero fields match everything.
type Filter struct {
	Milestone  string
	Status     v1.TaskStatus
	TargetRole string
}

// ListAllTasks walks every milestone of the project in order and returns the
// matching tasks, milestone-major then file-name order.
func (s *Store) ListAllTasks(projectPath string, filter Filter) ([]v1.TaskFileInfo, error) {
	milestones, err := s.Milestones(projectPath)
	if err != nil {
		return nil, err
	}

	var out []v1.TaskFileInfo
	for _, milestone := range milestones {
		if filter.Milestone != "" && filter.Milestone != milestone {
			continue
		}
		statuses := v1.ValidTaskStatuses
		if filter.Status != "" {
			statuses = []v1.TaskStatus{filter.Status}
		}
		for _, status := range statuses {
			tasks, err := s.ListTasks(projectPath, milestone, status)
			if err != nil {
				return nil, err
			}
			for _, task := range tasks {
				if filter.TargetRole != "" && task.TargetRole != filter.TargetRole {
					continue
				}
				out = append(out, task)
			}
		}
	}
	return out, nil
}

// WriteTask creates a task file in the given milestone status folder,
// rendering frontmatter and body, and returns the path.
func (s *Store) WriteTask(projectPath, milestone string, status v1.TaskStatus, fileName string, fm v1.TaskFrontmatter, body string) (string, error) {
	if err := s.EnsureMilestoneFolders(projectPath, milestone); err != nil {
		return "", err
	}
	content, err := RenderTask(fm, body)
	if err != nil {
		return "", apperrors.InternalError("failed to render task", err)
	}
	path := filepath.Join(TasksDir(projectPath), milestone, string(status), fileName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", apperrors.StorageError("failed to write task file", err)
	}
	return path, nil
}
