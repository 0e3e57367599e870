package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/jpalmerr/deskpulse/internal/desk"
)

// checkResult is the outcome of one agent's presence check. Exactly one of
// info or err is meaningful.
type checkResult struct {
	agentID int64
	info    desk.PresenceInfo
	err     error
}

// collectPresence runs one presence check per agent id through a fixed
// pool of workers, so at most m.concurrency requests are in flight at
// once. Every check succeeds or fails on its own; results arrive in
// completion order.
//
// When ctx is cancelled mid-cycle, undispatched agents are abandoned and
// only the results already produced are returned. Partial results are
// safe: each one maps to a distinct agent id.
func (m *Monitor) collectPresence(ctx context.Context, agentIDs []int64) []checkResult {
	if len(agentIDs) == 0 {
		return nil
	}

	jobs := make(chan int64)
	out := make(chan checkResult, len(agentIDs))

	workers := m.concurrency
	if workers > len(agentIDs) {
		workers = len(agentIDs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				out <- m.checkAgent(ctx, id)
			}
		}()
	}

dispatch:
	for _, id := range agentIDs {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]checkResult, 0, len(agentIDs))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// checkAgent performs a single presence check, converting a panic into a
// failed result so one agent can never take down the cycle or its
// siblings. The correlation id ties the log line to the returned error.
func (m *Monitor) checkAgent(ctx context.Context, agentID int64) (result checkResult) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			// log full context server-side for debugging
			m.logger.Error("presence check panic",
				"agent_id", agentID,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)

			result = checkResult{
				agentID: agentID,
				err:     fmt.Errorf("presence check panic (correlation_id: %s)", correlationID),
			}
		}
	}()

	info, err := m.client.Presence(ctx, agentID)
	return checkResult{agentID: agentID, info: info, err: err}
}
