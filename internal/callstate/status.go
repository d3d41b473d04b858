package callstate

import "strings"

// Status is the canonical call state, independent of provider vocabulary.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCalling    Status = "calling"
	StatusConnecting Status = "connecting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"

	// StatusUnmapped is the passthrough for provider statuses we do not
	// recognize. It is persisted but triggers no side effects.
	StatusUnmapped Status = "unmapped"
)

// Terminal reports whether the status ends the call lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	}
	return false
}

// rank orders statuses along the lifecycle graph. Transitions may jump
// forward any number of ranks but never move backward.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusCalling:
		return 1
	case StatusConnecting:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return 4
	}
	return -1
}

// MapProviderStatus maps the provider's status vocabulary (case-insensitive)
// to the canonical enum. Unknown strings map to StatusUnmapped.
func MapProviderStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return StatusPending
	case "ringing":
		return StatusCalling
	case "answered":
		return StatusConnecting
	case "in-progress", "in_progress":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "failed", "canceled":
		return StatusFailed
	case "busy":
		return StatusBusy
	case "no-answer", "no_answer":
		return StatusNoAnswer
	}
	return StatusUnmapped
}
