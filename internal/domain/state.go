package domain

// ExecutionState is one snapshot from the execution-state stream.
type ExecutionState struct {
	Idle       bool              `json:"idle"`
	BusyWith   *string           `json:"busyWith"`
	StatusLine *string           `json:"statusLine"`
	WaitingOn  []QuestionRequest `json:"waitingOn"`
}
