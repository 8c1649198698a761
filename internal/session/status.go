package session

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusIdle       Status = "idle"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusActive:     {StatusIdle, StatusExpired, StatusTerminated},
	StatusIdle:       {StatusActive, StatusExpired, StatusTerminated},
	StatusExpired:    {}, // terminal
	StatusTerminated: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusTerminated
}
