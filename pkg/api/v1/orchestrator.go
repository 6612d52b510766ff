package v1

import "time"

// OrchestratorSessionName is the reserved session id for the singleton
// orchestrator agent. The core refuses to delete it.
const OrchestratorSessionName = "agentmux-orc"

// OrchestratorStatus is persisted separately from teams so a missing
// orchestrator is representable.
type OrchestratorStatus struct {
	SessionID     string        `json:"sessionId"`
	Status        AgentStatus   `json:"status"`
	AgentStatus   AgentStatus   `json:"agentStatus"`
	WorkingStatus WorkingStatus `json:"workingStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// RuntimeRecord is an agent's out-of-band registration ping, keyed by role in
// runtime.json. It is the oracle the supervisor polls during initialization.
type RuntimeRecord struct {
	Role         string    `json:"role"`
	SessionID    string    `json:"sessionId"`
	MemberID     string    `json:"memberId,omitempty"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
}
