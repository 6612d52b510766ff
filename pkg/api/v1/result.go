package v1

// Result is the envelope every orchestration operation returns.
type Result struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OKResult builds a successful result with an optional message and payload.
func OKResult(message string, data interface{}) *Result {
	return &Result{OK: true, Message: message, Data: data}
}

// ErrResult builds a failed result from an error.
func ErrResult(err error) *Result {
	return &Result{OK: false, Error: err.Error()}
}

// MemberStartResult is the per-member outcome of a batch team start.
type MemberStartResult struct {
	MemberID    string `json:"memberId"`
	MemberName  string `json:"memberName"`
	SessionName string `json:"sessionName,omitempty"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StopTeamResult reports how many sessions a stop operation tore down.
type StopTeamResult struct {
	SessionsStopped int      `json:"sessionsStopped"`
	Errors          []string `json:"errors,omitempty"`
}
