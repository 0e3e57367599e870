package deskpulse

import (
	"time"

	"github.com/jpalmerr/deskpulse/internal/desk"
)

// Presence represents an agent's availability on the desk.
//
// Presence is a string type that can hold one of five predefined values:
// [PresenceOnline], [PresenceAway], [PresenceTransfersOnly],
// [PresenceOffline], or [PresenceUnknown]. Using a string type allows for
// easy JSON serialization and human-readable logging while maintaining
// type safety through the defined constants.
type Presence string

const (
	// PresenceOnline indicates the agent is available for new work.
	PresenceOnline Presence = "online"

	// PresenceAway indicates the agent is signed in but not taking work.
	PresenceAway Presence = "away"

	// PresenceTransfersOnly indicates the agent only accepts transferred
	// calls, not fresh ones from the queue.
	PresenceTransfersOnly Presence = "transfers_only"

	// PresenceOffline indicates the agent is signed out.
	PresenceOffline Presence = "offline"

	// PresenceUnknown indicates the desk reported a state this library
	// does not recognize. It is still tracked and republished as-is.
	PresenceUnknown Presence = "unknown"
)

// String returns the string representation of the presence.
// This implements the fmt.Stringer interface.
func (p Presence) String() string {
	return string(p)
}

// CallState represents an agent's call engagement on the desk.
//
// CallState is a string type that can hold one of four predefined values:
// [CallNone], [CallActive], [CallWrapUp], or [CallUnknown].
type CallState string

const (
	// CallNone indicates the agent is not on a call.
	CallNone CallState = "no_call"

	// CallActive indicates the agent is currently on a call.
	CallActive CallState = "on_call"

	// CallWrapUp indicates the agent is in post-call wrap-up.
	CallWrapUp CallState = "wrap_up"

	// CallUnknown indicates the desk reported a call status this library
	// does not recognize.
	CallUnknown CallState = "unknown"
)

// String returns the string representation of the call state.
// This implements the fmt.Stringer interface.
func (c CallState) String() string {
	return string(c)
}

// AgentSnapshot is one agent's observed state at a point in time.
//
// AgentSnapshot is immutable after creation. OnCall is derived from
// CallStatus for convenience; an agent in wrap-up is not on a call.
type AgentSnapshot struct {
	// ID is the agent's numeric identifier on the desk.
	ID int64

	// Name is the display name resolved from the desk directory, the
	// configured name, or the stringified id when neither is known.
	Name string

	// Presence is the agent's availability.
	Presence Presence

	// CallStatus is the agent's call engagement.
	CallStatus CallState

	// OnCall is true when CallStatus is [CallActive].
	OnCall bool

	// CheckedAt is when this state was observed.
	CheckedAt time.Time
}

// AgentChange describes one agent's state transition between two polling
// cycles. Change callbacks registered via [WithChangeCallback] receive one
// AgentChange per transition.
type AgentChange struct {
	// Agent is the state after the transition.
	Agent AgentSnapshot

	// Previous is the state before the transition. It is the zero value
	// when First is true.
	Previous AgentSnapshot

	// First marks an agent observed for the first time, either on the
	// initial cycle or after being added to the configuration.
	First bool
}

// presenceFromDesk maps the wire-level presence ordinal to the public type.
func presenceFromDesk(s desk.PresenceState) Presence {
	return Presence(s.String())
}

// callStateFromDesk maps the wire-level call status ordinal to the public type.
func callStateFromDesk(c desk.CallStatus) CallState {
	return CallState(c.String())
}
