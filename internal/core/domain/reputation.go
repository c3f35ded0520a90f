package domain

import "time"

// DomainState is the lifecycle state of a target domain.
type DomainState string

const (
	DomainStateHealthy   DomainState = "healthy"
	DomainStateDegraded  DomainState = "degraded"
	DomainStateAbandoned DomainState = "abandoned"
)

// DomainEventType names a state change shared between instances.
type DomainEventType string

const (
	DomainEventAbandoned DomainEventType = "abandoned"
	DomainEventReset     DomainEventType = "reset"
)

// DomainEvent tells peer instances that a domain was abandoned or reset.
type DomainEvent struct {
	Type   DomainEventType `json:"type"`
	Domain string          `json:"domain"`
	Reason string          `json:"reason,omitempty"`
	Origin string          `json:"origin"`
	At     time.Time       `json:"at"`
}
