package domain

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a domain state change is not allowed.
var ErrInvalidTransition = errors.New("invalid domain state transition")

// ValidDomainTransitions defines allowed domain state transitions.
// Abandoned has no outgoing edges; only an explicit reset leaves it.
var ValidDomainTransitions = map[DomainState][]DomainState{
	DomainStateHealthy:   {DomainStateDegraded},
	DomainStateDegraded:  {DomainStateHealthy, DomainStateAbandoned},
	DomainStateAbandoned: {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to DomainState) bool {
	for _, target := range ValidDomainTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// DomainTransition records a state change with its reason.
type DomainTransition struct {
	From      DomainState `json:"from"`
	To        DomainState `json:"to"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// Describe returns a human-readable description of a domain state.
func (s DomainState) Describe() string {
	switch s {
	case DomainStateHealthy:
		return "Healthy - requests proceed normally"
	case DomainStateDegraded:
		return "Degraded - recent bans or falling reputation"
	case DomainStateAbandoned:
		return "Abandoned - no automatic retries until reset"
	default:
		return "Unknown state"
	}
}

// Describe summarises a transition for logs.
func (t DomainTransition) Describe() string {
	s := string(t.From) + " -> " + string(t.To)
	if t.Reason != "" {
		s += " (" + t.Reason + ")"
	}
	return s
}
