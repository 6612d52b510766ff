package v1

import "time"

// Role identifies the function of a team member. The set is closed;
// dispatch tables (default prompts, check-in cadence) are keyed by it.
type Role string

const (
	RoleOrchestrator      Role = "orchestrator"
	RoleTPM               Role = "tpm"
	RolePGM               Role = "pgm"
	RoleDeveloper         Role = "developer"
	RoleFrontendDeveloper Role = "frontend-developer"
	RoleBackendDeveloper  Role = "backend-developer"
	RoleQA                Role = "qa"
	RoleTester            Role = "tester"
	RoleDesigner          Role = "designer"
)

// ValidRoles lists every accepted role value.
var ValidRoles = []Role{
	RoleOrchestrator, RoleTPM, RolePGM, RoleDeveloper,
	RoleFrontendDeveloper, RoleBackendDeveloper,
	RoleQA, RoleTester, RoleDesigner,
}

// IsValid reports whether r is a member of the closed role set.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// AgentStatus is the registration state of a member, owned by the supervisor.
type AgentStatus string

const (
	AgentStatusInactive   AgentStatus = "inactive"
	AgentStatusActivating AgentStatus = "activating"
	AgentStatusActive     AgentStatus = "active"
)

// WorkingStatus is the activity classification of a member, owned by the
// activity monitor.
type WorkingStatus string

const (
	WorkingStatusIdle       WorkingStatus = "idle"
	WorkingStatusInProgress WorkingStatus = "in_progress"
)

// TeamMember is an LLM-backed agent slot inside a team. SessionName is empty
// until a terminal session exists for it.
type TeamMember struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Role         Role        `json:"role"`
	SystemPrompt string      `json:"systemPrompt"`
	SessionName  string      `json:"sessionName"`
	AgentStatus  AgentStatus `json:"agentStatus"`
	// Status mirrors AgentStatus for readers of the legacy field.
	Status             AgentStatus   `json:"status"`
	WorkingStatus      WorkingStatus `json:"workingStatus"`
	Capabilities       []string      `json:"capabilities,omitempty"`
	ReadyAt            *time.Time    `json:"readyAt,omitempty"`
	LastActivityCheck  *time.Time    `json:"lastActivityCheck,omitempty"`
	LastTerminalOutput string        `json:"lastTerminalOutput,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// SetAgentStatus updates AgentStatus together with its legacy mirror.
func (m *TeamMember) SetAgentStatus(s AgentStatus) {
	m.AgentStatus = s
	m.Status = s
}

// TeamStatus is the coarse working state of a whole team.
type TeamStatus string

const (
	TeamStatusIdle       TeamStatus = "idle"
	TeamStatusWorking    TeamStatus = "working"
	TeamStatusBlocked    TeamStatus = "blocked"
	TeamStatusTerminated TeamStatus = "terminated"
)

// Team is an ordered group of members optionally bound to a project.
// Member order is significant for display only.
type Team struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Members        []TeamMember `json:"members"`
	CurrentProject string       `json:"currentProject,omitempty"`
	Status         TeamStatus   `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Member returns a pointer to the member with the given id, or nil.
func (t *Team) Member(memberID string) *TeamMember {
	for i := range t.Members {
		if t.Members[i].ID == memberID {
			return &t.Members[i]
		}
	}
	return nil
}
