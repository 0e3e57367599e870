package monitor

import (
	"time"

	"github.com/jpalmerr/deskpulse/internal/desk"
)

// Quiet-cycle thresholds for the adaptive interval. After quietAfterBurst
// consecutive unchanged cycles the interval steps up, and again at each
// later threshold; the last interval is the staleness cap.
const (
	quietAfterBurst  = 5
	quietAfterSteady = 10
	quietAfterIdle   = 20
)

// pacer derives the next poll interval from whether the last cycle
// observed any state change.
//
// A change snaps the interval down to the burst interval and clears the
// quiet streak; unchanged cycles step the interval up through the quiet
// intervals as the streak grows. The step function is non-decreasing in
// the streak, so a quiet floor never polls faster over time.
type pacer struct {
	intervals QuietIntervals
	burst     time.Duration
	quiet     int
}

// QuietIntervals are the step-function intervals for unchanged cycles,
// from freshest to sparsest.
type QuietIntervals [4]time.Duration

func newPacer(burst time.Duration, intervals QuietIntervals) *pacer {
	return &pacer{burst: burst, intervals: intervals}
}

// next returns the interval to sleep after a cycle. The streak is
// consulted before it grows, so the first unchanged cycle after activity
// still polls at the freshest quiet interval.
func (p *pacer) next(changed bool) time.Duration {
	if changed {
		p.quiet = 0
		return p.burst
	}
	interval := p.stepFor(p.quiet)
	p.quiet++
	return interval
}

func (p *pacer) stepFor(quiet int) time.Duration {
	switch {
	case quiet < quietAfterBurst:
		return p.intervals[0]
	case quiet < quietAfterSteady:
		return p.intervals[1]
	case quiet < quietAfterIdle:
		return p.intervals[2]
	default:
		return p.intervals[3]
	}
}

// statesDiffer reports whether two snapshots of the tracked-agent map
// differ in membership, presence, or call status. Display-name changes do
// not count; a rename is not agent activity worth burst polling.
func statesDiffer(before, after map[int64]AgentState) bool {
	if len(before) != len(after) {
		return true
	}
	for id, b := range before {
		a, ok := after[id]
		if !ok {
			return true
		}
		if a.Presence != b.Presence || a.CallStatus != b.CallStatus {
			return true
		}
	}
	return false
}

// presenceChanged reports whether a single agent's observed state moved.
func presenceChanged(before AgentState, after desk.PresenceInfo) bool {
	return before.Presence != after.Presence || before.CallStatus != after.CallStatus
}
