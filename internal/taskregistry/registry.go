// Package taskregistry tracks which member is working on which task file.
// The registry is the source of truth for "who is doing what": an in-memory
// ordered list flushed to the in_progress_tasks.json snapshot after every
// mutation, reconciled against the task tree on demand.
package taskregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/taskfolder"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Registry owns the in-progress task index.
type Registry struct {
	store   *storage.Store
	folders *taskfolder.Store
	logger  *logger.Logger

	entries []v1.InProgressTask
	mu      sync.Mutex

	// Per-project locks serialize SyncWithFileSystem against concurrent
	// move operations on the same tree.
	projectLocks map[string]*sync.Mutex
	plMu         sync.Mutex
}

// NewRegistry creates a registry backed by the given store, loading any
// persisted entries.
func NewRegistry(store *storage.Store, folders *taskfolder.Store, log *logger.Logger) (*Registry, error) {
	entries, err := store.GetInProgressTasks()
	if err != nil {
		return nil, err
	}
	return &Registry{
		store:        store,
		folders:      folders,
		logger:       log.WithFields(zap.String("component", "taskregistry")),
		entries:      entries,
		projectLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (r *Registry) projectLock(projectPath string) *sync.Mutex {
	r.plMu.Lock()
	defer r.plMu.Unlock()
	m, ok := r.projectLocks[projectPath]
	if !ok {
		m = &sync.Mutex{}
		r.projectLocks[projectPath] = m
	}
	return m
}

// flushLocked persists the current entries. Callers hold r.mu.
func (r *Registry) flushLocked() error {
	return r.store.SaveInProgressTasks(append([]v1.InProgressTask(nil), r.entries...))
}

// Entries returns a copy of all registry entries in insertion order.
func (r *Registry) Entries() []v1.InProgressTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]v1.InProgressTask(nil), r.entries...)
}

// EntriesForProject returns the entries belonging to one project.
func (r *Registry) EntriesForProject(projectID string) []v1.InProgressTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []v1.InProgressTask
	for _, e := range r.entries {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out
}

// FindByPath returns the entry whose task file path matches, or nil.
func (r *Registry) FindByPath(taskFilePath string) *v1.InProgressTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].TaskFilePath == taskFilePath {
			e := r.entries[i]
			return &e
		}
	}
	return nil
}

// AssignTask appends a new entry in status "assigned". A second assignment of
// the same task file path is a conflict.
func (r *Registry) AssignTask(ctx context.Context, projectID, filePath, taskName, role, memberID, sessionID string, priority v1.TaskPriority) (*v1.InProgressTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].TaskFilePath == filePath {
			return nil, apperrors.Conflict(fmt.Sprintf("task '%s' is already assigned", taskName))
		}
	}

	if priority == "" {
		priority = v1.TaskPriorityMedium
	}
	entry := v1.InProgressTask{
		ID:                uuid.New().String(),
		ProjectID:         projectID,
		TaskFilePath:      filePath,
		TaskName:          taskName,
		TargetRole:        role,
		AssignedMemberID:  memberID,
		AssignedSessionID: sessionID,
		AssignedAt:        time.Now().UTC(),
		Status:            v1.AssignmentStatusAssigned,
		Priority:          priority,
	}
	r.entries = append(r.entries, entry)
	if err := r.flushLocked(); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return nil, err
	}

	r.logger.Info("Assigned task",
		zap.String("task", taskName),
		zap.String("member_id", memberID),
		zap.String("role", role))
	return &entry, nil
}

// UpdateStatus transitions an entry between assigned, active, and blocked.
// A blocked entry records the reason; unblocking clears it.
func (r *Registry) UpdateStatus(ctx context.Context, entryID string, status v1.AssignmentStatus, reason string) (*v1.InProgressTask, error) {
	switch status {
	case v1.AssignmentStatusAssigned, v1.AssignmentStatusActive, v1.AssignmentStatusBlocked:
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("'%s' is not a valid assignment status", status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID != entryID {
			continue
		}
		prev := r.entries[i]
		r.entries[i].Status = status
		if status == v1.AssignmentStatusBlocked {
			r.entries[i].BlockReason = reason
		} else {
			r.entries[i].BlockReason = ""
		}
		if err := r.flushLocked(); err != nil {
			r.entries[i] = prev
			return nil, err
		}
		e := r.entries[i]
		return &e, nil
	}
	return nil, apperrors.NotFound("task registry entry", entryID)
}

// UpdatePath rewrites an entry's task file path after a folder move.
func (r *Registry) UpdatePath(entryID, newPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == entryID {
			prev := r.entries[i].TaskFilePath
			r.entries[i].TaskFilePath = newPath
			if err := r.flushLocked(); err != nil {
				r.entries[i].TaskFilePath = prev
				return err
			}
			return nil
		}
	}
	return apperrors.NotFound("task registry entry", entryID)
}

// RemoveTask drops an entry, the terminal transition for a completed task.
func (r *Registry) RemoveTask(ctx context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == entryID {
			removed := r.entries[i]
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			if err := r.flushLocked(); err != nil {
				r.entries = append(r.entries[:i], append([]v1.InProgressTask{removed}, r.entries[i:]...)...)
				return err
			}
			return nil
		}
	}
	return apperrors.NotFound("task registry entry", entryID)
}

// GetOpenTasks scans the project's milestones and returns open tasks ordered
// by milestone then file name prefix.
func (r *Registry) GetOpenTasks(projectPath string) ([]v1.TaskFileInfo, error) {
	return r.folders.ListAllTasks(projectPath, taskfolder.Filter{Status: v1.TaskStatusOpen})
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	Removed   int `json:"removed"`
	Orphans   int `json:"orphans"`
	Remaining int `json:"remaining"`
}

// SyncWithFileSystem reconciles the registry with the task tree: entries
// whose file no longer exists (completed or vanished) are dropped, and
// in_progress files nobody claims get synthetic pending_assignment entries.
// The pass holds the project lock so concurrent moves cannot race it.
func (r *Registry) SyncWithFileSystem(ctx context.Context, projectPath, projectID string) (*SyncReport, error) {
	pl := r.projectLock(projectPath)
	pl.Lock()
	defer pl.Unlock()

	onDisk, err := r.folders.ListAllTasks(projectPath, taskfolder.Filter{Status: v1.TaskStatusInProgress})
	if err != nil {
		return nil, err
	}
	diskPaths := make(map[string]v1.TaskFileInfo, len(onDisk))
	for _, task := range onDisk {
		diskPaths[task.Path] = task
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	report := &SyncReport{}
	kept := r.entries[:0]
	claimed := make(map[string]bool)
	for _, entry := range r.entries {
		if entry.ProjectID != projectID {
			kept = append(kept, entry)
			continue
		}
		if _, ok := diskPaths[entry.TaskFilePath]; !ok {
			report.Removed++
			r.logger.Info("Dropped stale registry entry",
				zap.String("task", entry.TaskName),
				zap.String("path", entry.TaskFilePath))
			continue
		}
		claimed[entry.TaskFilePath] = true
		kept = append(kept, entry)
	}
	r.entries = kept

	for _, task := range onDisk {
		if claimed[task.Path] {
			continue
		}
		report.Orphans++
		name := task.Title
		if name == "" {
			name = task.FileName
		}
		r.entries = append(r.entries, v1.InProgressTask{
			ID:           uuid.New().String(),
			ProjectID:    projectID,
			TaskFilePath: task.Path,
			TaskName:     name,
			TargetRole:   task.TargetRole,
			AssignedAt:   time.Now().UTC(),
			Status:       v1.AssignmentStatusPendingAssignment,
			Priority:     task.Priority,
		})
	}

	if err := r.flushLocked(); err != nil {
		return nil, err
	}
	for _, e := range r.entries {
		if e.ProjectID == projectID {
			report.Remaining++
		}
	}
	return report, nil
}
