package store

import "time"

// Event types carried by subscription channels.
const (
	// EventAgent announces a new or refreshed agent status.
	EventAgent = "agent"

	// EventAgentRemoved announces an agent dropped from tracking. Only the
	// agent's ID is meaningful.
	EventAgentRemoved = "agent_removed"

	// EventView announces a refreshed view status.
	EventView = "view"
)

// AgentStatus is the storage representation of one agent's state,
// optimized for JSON serialization (used by the REST API and SSE). It is
// decoupled from the monitor's internal types to allow independent
// evolution.
type AgentStatus struct {
	// ID is the agent's desk identifier.
	ID int64 `json:"id"`

	// Name is the agent's display name.
	Name string `json:"name"`

	// Presence is the availability state (e.g. "online", "away").
	Presence string `json:"presence"`

	// CallStatus is the call engagement (e.g. "on_call", "no_call").
	CallStatus string `json:"call_status"`

	// OnCall is a convenience flag for dashboard rendering.
	OnCall bool `json:"on_call"`

	// CheckedAt is when this state was last observed.
	CheckedAt time.Time `json:"checked_at"`
}

// ViewStatus is the storage representation of one view's ticket counts.
// Total and PerAgent refresh independently: a failed check leaves the
// previous value standing, so their timestamps can differ.
type ViewStatus struct {
	// ID is the view's desk identifier.
	ID int64 `json:"id"`

	// Name is the view's display name.
	Name string `json:"name"`

	// TicketCount is the view's last known ticket total.
	TicketCount int64 `json:"ticket_count"`

	// PerAgent maps assignee id to ticket count; key 0 is the unassigned
	// bucket. Nil when the view has no per-agent breakdown.
	PerAgent map[int64]int64 `json:"per_agent,omitempty"`

	// CheckedAt is when any part of this view was last refreshed.
	CheckedAt time.Time `json:"checked_at"`
}

// Event is a single change notification delivered to subscribers. Exactly
// one of Agent or View is set, according to Type.
type Event struct {
	Type  string       `json:"type"`
	Agent *AgentStatus `json:"agent,omitempty"`
	View  *ViewStatus  `json:"view,omitempty"`
}

// Store defines the interface for storing and subscribing to status
// updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// UpdateAgent stores an agent status, keyed by ID, and notifies all
	// subscribers.
	UpdateAgent(status AgentStatus)

	// RemoveAgent drops an agent from storage and notifies subscribers.
	// Removing an unknown agent is a no-op.
	RemoveAgent(agentID int64)

	// UpdateViewTotal merges a new ticket total into the view's stored
	// status and notifies subscribers with the merged result.
	UpdateViewTotal(viewID int64, name string, total int64, checkedAt time.Time)

	// UpdateViewAgents merges a new per-assignee breakdown into the view's
	// stored status and notifies subscribers with the merged result.
	UpdateViewAgents(viewID int64, name string, counts map[int64]int64, checkedAt time.Time)

	// Agents returns all stored agent statuses, sorted by id.
	// The returned slice is a snapshot; modifications do not affect the store.
	Agents() []AgentStatus

	// Views returns all stored view statuses, sorted by id.
	Views() []ViewStatus

	// Subscribe returns a channel that receives status events.
	// The returned channel has a buffer; slow consumers may miss events.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
