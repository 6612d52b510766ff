package v1

import "time"

// TaskStatus is the on-disk folder a task markdown file lives in.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// ValidTaskStatuses lists the four task folder names.
var ValidTaskStatuses = []TaskStatus{
	TaskStatusOpen, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked,
}

// IsValid reports whether s names one of the four status folders.
func (s TaskStatus) IsValid() bool {
	for _, v := range ValidTaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// TaskPriority orders open tasks within a milestone.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// TaskFrontmatter is the YAML header at the top of a task markdown file.
type TaskFrontmatter struct {
	ID             string       `yaml:"id"`
	Title          string       `yaml:"title"`
	Status         TaskStatus   `yaml:"status"`
	Priority       TaskPriority `yaml:"priority"`
	TargetRole     string       `yaml:"targetRole"`
	Dependencies   []string     `yaml:"dependencies"`
	EstimatedHours float64      `yaml:"estimatedHours"`
	MilestoneID    string       `yaml:"milestoneId"`
}

// TaskFileInfo describes a task markdown file found on disk.
type TaskFileInfo struct {
	Path        string       `json:"path"`
	FileName    string       `json:"fileName"`
	Milestone   string       `json:"milestone"`
	Status      TaskStatus   `json:"status"`
	ID          string       `json:"id,omitempty"`
	Title       string       `json:"title,omitempty"`
	TargetRole  string       `json:"targetRole,omitempty"`
	Priority    TaskPriority `json:"priority"`
	MilestoneID string       `json:"milestoneId,omitempty"`
}

// AssignmentStatus is the registry-side state of an in-progress task.
type AssignmentStatus string

const (
	AssignmentStatusAssigned          AssignmentStatus = "assigned"
	AssignmentStatusActive            AssignmentStatus = "active"
	AssignmentStatusBlocked           AssignmentStatus = "blocked"
	AssignmentStatusPendingAssignment AssignmentStatus = "pending_assignment"
)

// InProgressTask links a task file's current path to the member working on it.
// The registry holding these is the source of truth for "who is doing what".
type InProgressTask struct {
	ID                string           `json:"id"`
	ProjectID         string           `json:"projectId"`
	TaskFilePath      string           `json:"taskFilePath"`
	TaskName          string           `json:"taskName"`
	TargetRole        string           `json:"targetRole"`
	AssignedMemberID  string           `json:"assignedMemberId"`
	AssignedSessionID string           `json:"assignedSessionId"`
	AssignedAt        time.Time        `json:"assignedAt"`
	Status            AssignmentStatus `json:"status"`
	BlockReason       string           `json:"blockReason,omitempty"`
	Priority          TaskPriority     `json:"priority"`
}
