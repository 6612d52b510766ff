package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Subscription actions: the payload carries an event subject pattern
	// (NATS-style wildcards, e.g. "team.>" or "task.*").
	ActionSubscribe   = "events.subscribe"
	ActionUnsubscribe = "events.unsubscribe"

	// Notification actions (server -> client). EventPush payloads embed the
	// originating bus event; its Type field carries the concrete subject
	// (team.started, task.assigned, activity.updated, ...).
	ActionEventPush = "event.push"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
