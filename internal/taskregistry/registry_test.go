package taskregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/taskfolder"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Store) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	store, err := storage.NewStore(t.TempDir(), log)
	require.NoError(t, err)
	reg, err := NewRegistry(store, taskfolder.NewStore(log), log)
	require.NoError(t, err)
	return reg, store
}

func writeProjectTask(t *testing.T, project, milestone string, status v1.TaskStatus, name, content string) string {
	t.Helper()
	dir := filepath.Join(project, ".agentmux", "tasks", milestone, string(status))
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAssignTaskPersistsAndConflicts(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	entry, err := reg.AssignTask(ctx, "p1", "/tmp/p/.agentmux/tasks/m0_x/in_progress/01_a.md", "01_a", "developer", "m1", "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, v1.AssignmentStatusAssigned, entry.Status)
	assert.Equal(t, v1.TaskPriorityMedium, entry.Priority)
	assert.False(t, entry.AssignedAt.IsZero())

	// Second assignment of the same path conflicts.
	_, err = reg.AssignTask(ctx, "p1", "/tmp/p/.agentmux/tasks/m0_x/in_progress/01_a.md", "01_a", "developer", "m2", "sess-2", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	// The entry survives a registry reload.
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	reloaded, err := NewRegistry(store, taskfolder.NewStore(log), log)
	require.NoError(t, err)
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestUpdateStatusTransitions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	entry, err := reg.AssignTask(ctx, "p1", "/x/.agentmux/tasks/m0_x/in_progress/01_a.md", "01_a", "qa", "m1", "s1", v1.TaskPriorityHigh)
	require.NoError(t, err)

	updated, err := reg.UpdateStatus(ctx, entry.ID, v1.AssignmentStatusBlocked, "waiting on api keys")
	require.NoError(t, err)
	assert.Equal(t, v1.AssignmentStatusBlocked, updated.Status)
	assert.Equal(t, "waiting on api keys", updated.BlockReason)

	updated, err = reg.UpdateStatus(ctx, entry.ID, v1.AssignmentStatusActive, "")
	require.NoError(t, err)
	assert.Equal(t, v1.AssignmentStatusActive, updated.Status)
	assert.Empty(t, updated.BlockReason)

	_, err = reg.UpdateStatus(ctx, entry.ID, v1.AssignmentStatus("bogus"), "")
	assert.Error(t, err)

	_, err = reg.UpdateStatus(ctx, "missing", v1.AssignmentStatusActive, "")
	assert.Error(t, err)
}

func TestRemoveTask(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	entry, err := reg.AssignTask(ctx, "p1", "/x/.agentmux/tasks/m0_x/in_progress/01_a.md", "01_a", "qa", "m1", "s1", "")
	require.NoError(t, err)

	require.NoError(t, reg.RemoveTask(ctx, entry.ID))
	assert.Empty(t, reg.Entries())
	assert.Error(t, reg.RemoveTask(ctx, entry.ID))
}

func TestGetOpenTasksOrdering(t *testing.T) {
	reg, _ := newTestRegistry(t)
	project := t.TempDir()
	writeProjectTask(t, project, "m1_build", v1.TaskStatusOpen, "01_later.md", "")
	writeProjectTask(t, project, "m0_specs", v1.TaskStatusOpen, "02_second.md", "")
	writeProjectTask(t, project, "m0_specs", v1.TaskStatusOpen, "01_first.md", "")

	tasks, err := reg.GetOpenTasks(project)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "01_first.md", tasks[0].FileName)
	assert.Equal(t, "02_second.md", tasks[1].FileName)
	assert.Equal(t, "01_later.md", tasks[2].FileName)
}

func TestSyncWithFileSystem(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	project := t.TempDir()

	tracked := writeProjectTask(t, project, "m0_specs", v1.TaskStatusInProgress, "01_tracked.md", "---\nid: t1\ntitle: Tracked\n---\n")
	orphan := writeProjectTask(t, project, "m0_specs", v1.TaskStatusInProgress, "02_orphan_developer.md", "---\nid: t2\ntitle: Orphan\n---\n")

	_, err := reg.AssignTask(ctx, "p1", tracked, "Tracked", "developer", "m1", "s1", "")
	require.NoError(t, err)
	// Entry for a file that no longer exists.
	_, err = reg.AssignTask(ctx, "p1", filepath.Join(project, ".agentmux", "tasks", "m0_specs", "in_progress", "gone.md"), "Gone", "qa", "m2", "s2", "")
	require.NoError(t, err)

	report, err := reg.SyncWithFileSystem(ctx, project, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 2, report.Remaining)

	entries := reg.Entries()
	require.Len(t, entries, 2)
	byPath := make(map[string]v1.InProgressTask)
	for _, e := range entries {
		byPath[e.TaskFilePath] = e
	}
	assert.Equal(t, v1.AssignmentStatusAssigned, byPath[tracked].Status)
	assert.Equal(t, v1.AssignmentStatusPendingAssignment, byPath[orphan].Status)
	assert.Equal(t, "developer", byPath[orphan].TargetRole)
}

func TestSyncLeavesOtherProjectsAlone(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	project := t.TempDir()

	_, err := reg.AssignTask(ctx, "p-other", "/elsewhere/.agentmux/tasks/m0_x/in_progress/01_a.md", "Other", "qa", "m9", "s9", "")
	require.NoError(t, err)

	report, err := reg.SyncWithFileSystem(ctx, project, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed)

	require.Len(t, reg.Entries(), 1)
}
