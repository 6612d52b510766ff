package v1

import "time"

// DelayUnit is the unit for a scheduled message delay.
type DelayUnit string

const (
	DelayUnitSeconds DelayUnit = "seconds"
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
)

// Duration converts an amount in this unit to a time.Duration.
func (u DelayUnit) Duration(amount int) time.Duration {
	switch u {
	case DelayUnitSeconds:
		return time.Duration(amount) * time.Second
	case DelayUnitHours:
		return time.Duration(amount) * time.Hour
	default:
		return time.Duration(amount) * time.Minute
	}
}

// TargetOrchestrator is the literal scheduled-message target that resolves to
// the orchestrator session.
const TargetOrchestrator = "orchestrator"

// ScheduledMessage is a delayed or recurring prompt delivered to one or more
// sessions. Target is a team id, the literal "orchestrator", or a raw
// session name.
type ScheduledMessage struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Target        string     `json:"target"`
	TargetProject string     `json:"targetProject,omitempty"`
	Message       string     `json:"message"`
	DelayAmount   int        `json:"delayAmount"`
	DelayUnit     DelayUnit  `json:"delayUnit"`
	Recurring     bool       `json:"recurring"`
	Active        bool       `json:"active"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Delay returns the configured delay as a duration.
func (m *ScheduledMessage) Delay() time.Duration {
	return m.DelayUnit.Duration(m.DelayAmount)
}

// MessageDeliveryLog is one append-only row per delivery attempt.
type MessageDeliveryLog struct {
	ID                 string    `json:"id"`
	ScheduledMessageID string    `json:"scheduledMessageId"`
	MessageName        string    `json:"messageName"`
	Target             string    `json:"target"`
	SessionName        string    `json:"sessionName"`
	Message            string    `json:"message"`
	SentAt             time.Time `json:"sentAt"`
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
}
