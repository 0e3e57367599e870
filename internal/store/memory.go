package store

import (
	"sort"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity. A full buffer
// drops events for that subscriber instead of blocking the writer.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage with a publish-subscribe
// mechanism for real-time updates. Agent statuses are keyed by agent id
// and view statuses by view id, with new values replacing or merging into
// previous ones.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[int64]AgentStatus
	views  map[int64]ViewStatus

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[int64]AgentStatus),
		views:       make(map[int64]ViewStatus),
		subscribers: make(map[chan Event]struct{}),
	}
}

// UpdateAgent stores an [AgentStatus] and notifies all subscribers.
func (m *MemoryStore) UpdateAgent(status AgentStatus) {
	m.mu.Lock()
	m.agents[status.ID] = status
	m.mu.Unlock()

	m.notify(Event{Type: EventAgent, Agent: &status})
}

// RemoveAgent drops an agent and tells subscribers it is gone. Unknown
// agents are ignored without notification.
func (m *MemoryStore) RemoveAgent(agentID int64) {
	m.mu.Lock()
	_, existed := m.agents[agentID]
	delete(m.agents, agentID)
	m.mu.Unlock()

	if existed {
		m.notify(Event{Type: EventAgentRemoved, Agent: &AgentStatus{ID: agentID}})
	}
}

// UpdateViewTotal merges a ticket total into the view's status, keeping
// any per-agent breakdown from earlier checks.
func (m *MemoryStore) UpdateViewTotal(viewID int64, name string, total int64, checkedAt time.Time) {
	m.mu.Lock()
	v := m.views[viewID]
	v.ID = viewID
	v.Name = name
	v.TicketCount = total
	v.CheckedAt = checkedAt
	m.views[viewID] = v
	m.mu.Unlock()

	m.notify(Event{Type: EventView, View: &v})
}

// UpdateViewAgents merges a per-assignee breakdown into the view's status,
// keeping the total from earlier checks.
func (m *MemoryStore) UpdateViewAgents(viewID int64, name string, counts map[int64]int64, checkedAt time.Time) {
	copied := make(map[int64]int64, len(counts))
	for id, n := range counts {
		copied[id] = n
	}

	m.mu.Lock()
	v := m.views[viewID]
	v.ID = viewID
	v.Name = name
	v.PerAgent = copied
	v.CheckedAt = checkedAt
	m.views[viewID] = v
	m.mu.Unlock()

	m.notify(Event{Type: EventView, View: &v})
}

// Agents returns a snapshot of all stored agent statuses, sorted by id.
func (m *MemoryStore) Agents() []AgentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]AgentStatus, 0, len(m.agents))
	for _, status := range m.agents {
		agents = append(agents, status)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// Views returns a snapshot of all stored view statuses, sorted by id. The
// PerAgent maps are copies.
func (m *MemoryStore) Views() []ViewStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]ViewStatus, 0, len(m.views))
	for _, status := range m.views {
		if status.PerAgent != nil {
			copied := make(map[int64]int64, len(status.PerAgent))
			for id, n := range status.PerAgent {
				copied[id] = n
			}
			status.PerAgent = copied
		}
		views = append(views, status)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Subscribe creates a new subscription and returns a channel for
// receiving events.
//
// The returned channel has a buffer of 100 events. If the buffer fills
// (slow consumer), new events are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent
// resource leaks.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// events will be sent. Safe to call multiple times or with an unknown
// channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notify sends the event to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the
// event is dropped for that subscriber rather than blocking the update
// path.
func (m *MemoryStore) notify(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber is slow, drop the event
		}
	}
}
