package desk

import "strings"

// PresenceState is an agent's availability for receiving work.
//
// The integer values are the ordinals published to the metrics sink and must
// not be reordered: dashboards built against the exported series rely on them.
type PresenceState int

const (
	// Offline means the agent is signed out of the desk.
	Offline PresenceState = 0

	// Away means the agent is signed in but not accepting work.
	Away PresenceState = 1

	// TransfersOnly means the agent accepts transferred calls only.
	TransfersOnly PresenceState = 2

	// Online means the agent is fully available.
	Online PresenceState = 3

	// PresenceUnknown means the reported state was not recognized.
	PresenceUnknown PresenceState = -1
)

// String returns the canonical lowercase name of the state.
func (s PresenceState) String() string {
	switch s {
	case Offline:
		return "offline"
	case Away:
		return "away"
	case TransfersOnly:
		return "transfers_only"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// ParsePresenceState maps a wire value to a [PresenceState].
//
// Matching is case-insensitive and tolerant of the synonyms the desk API has
// used across versions ("available" for online, "transfers only" with a
// space). Unrecognized values map to [PresenceUnknown]; they are not an
// error, the ordinal -1 is a publishable state of its own.
func ParsePresenceState(raw string) PresenceState {
	switch normalize(raw) {
	case "offline":
		return Offline
	case "away":
		return Away
	case "transfers_only":
		return TransfersOnly
	case "online", "available":
		return Online
	default:
		return PresenceUnknown
	}
}

// CallStatus is whether an agent is engaged in or wrapping up a call.
//
// As with [PresenceState], the integer values are published ordinals.
type CallStatus int

const (
	// NoCall means the agent is not on a call.
	NoCall CallStatus = 0

	// OnCall means the agent is currently on a call.
	OnCall CallStatus = 1

	// WrapUp means the agent is in post-call wrap-up.
	WrapUp CallStatus = 2

	// CallUnknown means the reported status was not recognized.
	CallUnknown CallStatus = -1
)

// String returns the canonical lowercase name of the status.
func (c CallStatus) String() string {
	switch c {
	case NoCall:
		return "no_call"
	case OnCall:
		return "on_call"
	case WrapUp:
		return "wrap_up"
	default:
		return "unknown"
	}
}

// ParseCallStatus maps a wire value to a [CallStatus]. Matching rules are
// the same as [ParsePresenceState].
func ParseCallStatus(raw string) CallStatus {
	switch normalize(raw) {
	case "no_call", "not_on_call", "none", "":
		return NoCall
	case "on_call":
		return OnCall
	case "wrap_up", "wrapup":
		return WrapUp
	default:
		return CallUnknown
	}
}

// normalize lowercases and joins multi-word values with underscores so
// "Transfers Only" and "transfers_only" compare equal.
func normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), "_")
}

// PresenceInfo is the decoded result of a single presence check.
type PresenceInfo struct {
	// Presence is the agent's availability state.
	Presence PresenceState

	// CallStatus is the agent's current call engagement.
	CallStatus CallStatus
}

// RosterAgent is one agent from the directory roster.
type RosterAgent struct {
	// ID is the agent's stable numeric identifier.
	ID int64

	// Name is the agent's display name as known to the desk.
	Name string
}
