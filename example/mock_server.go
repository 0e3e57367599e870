package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// shiftScript is the sequence of presence and call states a simulated agent
// cycles through, roughly one support shift.
var shiftScript = []struct{ State, Call string }{
	{"online", "no_call"},
	{"online", "on_call"},
	{"online", "wrap_up"},
	{"online", "no_call"},
	{"online", "on_call"},
	{"away", "no_call"},
	{"online", "no_call"},
	{"transfers_only", "no_call"},
	{"offline", "no_call"},
}

// mockAgent tracks the simulated shift position of a single agent.
type mockAgent struct {
	name         string
	scriptIdx    int
	nextChangeAt time.Time
}

// mockView tracks a simulated ticket queue.
type mockView struct {
	count        int64
	nextChangeAt time.Time
}

// StartMockDeskServer runs a fake desk API with a handful of agents working
// through simulated shifts. Agents change presence every 15-45 seconds and
// ticket queues drift on their own schedule.
// Call this in a goroutine before starting DeskPulse.
func StartMockDeskServer(addr string) {
	var (
		mu     sync.Mutex
		agents = map[int64]*mockAgent{
			360001: {name: "Ada Lovelace"},
			360002: {name: "Grace Hopper", scriptIdx: 1},
			360003: {name: "Katherine Johnson", scriptIdx: 3},
			360004: {name: "Alan Turing", scriptIdx: 5},
		}
		views = map[int64]*mockView{
			7100: {count: 42},
			7200: {count: 7},
		}
	)

	now := time.Now()
	for _, a := range agents {
		a.nextChangeAt = now.Add(time.Duration(15+rand.Intn(31)) * time.Second)
	}
	for _, v := range views {
		v.nextChangeAt = now.Add(time.Duration(10+rand.Intn(21)) * time.Second)
	}

	// advance moves agents along their shift script and drifts queue counts
	// when their scheduled change time has passed. Callers hold mu.
	advance := func(now time.Time) {
		for id, a := range agents {
			if now.After(a.nextChangeAt) {
				old := shiftScript[a.scriptIdx]
				a.scriptIdx = (a.scriptIdx + 1) % len(shiftScript)
				a.nextChangeAt = now.Add(time.Duration(15+rand.Intn(31)) * time.Second)
				cur := shiftScript[a.scriptIdx]
				slog.Info("presence change", "agent_id", id, "agent", a.name,
					"from", old.State, "to", cur.State, "call", cur.Call)
			}
		}
		for id, v := range views {
			if now.After(v.nextChangeAt) {
				v.count += int64(rand.Intn(9)) - 4
				if v.count < 0 {
					v.count = 0
				}
				v.nextChangeAt = now.Add(time.Duration(10+rand.Intn(21)) * time.Second)
				slog.Info("queue change", "view_id", id, "count", v.count)
			}
		}
	}

	// directory listing, single page
	http.HandleFunc("/api/v2/agents", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(mockLatency())

		type rosterEntry struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}
		mu.Lock()
		advance(time.Now())
		roster := make([]rosterEntry, 0, len(agents))
		for id, a := range agents {
			roster = append(roster, rosterEntry{ID: id, Name: a.name})
		}
		mu.Unlock()
		sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })

		writeJSON(w, map[string]any{
			"agents": roster,
			"meta":   map[string]any{"has_more": false, "after_cursor": ""},
		})
	})

	// per-agent availability
	http.HandleFunc("/api/v2/agents/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r.URL.Path, "/api/v2/agents/", "/availability")
		if !ok {
			http.NotFound(w, r)
			return
		}
		time.Sleep(mockLatency())

		mu.Lock()
		advance(time.Now())
		a, exists := agents[id]
		var state, call string
		if exists {
			pos := shiftScript[a.scriptIdx]
			state, call = pos.State, pos.Call
		}
		mu.Unlock()

		if !exists {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "agent not found"}`))
			return
		}
		writeJSON(w, map[string]any{
			"availability": map[string]string{"state": state, "call_status": call},
		})
	})

	// view ticket counts and per-agent ticket listings
	http.HandleFunc("/api/v2/views/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(mockLatency())

		switch {
		case strings.HasSuffix(r.URL.Path, "/count"):
			id, ok := pathID(r.URL.Path, "/api/v2/views/", "/count")
			if !ok {
				http.NotFound(w, r)
				return
			}
			mu.Lock()
			advance(time.Now())
			v, exists := views[id]
			var count int64
			if exists {
				count = v.count
			}
			mu.Unlock()
			if !exists {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, map[string]any{"count": count})

		case strings.HasSuffix(r.URL.Path, "/tickets"):
			id, ok := pathID(r.URL.Path, "/api/v2/views/", "/tickets")
			if !ok {
				http.NotFound(w, r)
				return
			}
			mu.Lock()
			advance(time.Now())
			v, exists := views[id]
			var count int64
			if exists {
				count = v.count
			}
			owners := make([]int64, 0, len(agents))
			for agentID := range agents {
				owners = append(owners, agentID)
			}
			mu.Unlock()
			if !exists {
				http.NotFound(w, r)
				return
			}
			sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
			writeJSON(w, map[string]any{
				"tickets": makeTickets(id, count, owners),
				"meta":    map[string]any{"has_more": false, "after_cursor": ""},
			})

		default:
			http.NotFound(w, r)
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock desk error", "error", err)
	}
}

type mockTicket struct {
	ID         int64  `json:"id"`
	AssigneeID *int64 `json:"assignee_id"`
}

// makeTickets fabricates a view's ticket listing: count tickets spread
// round-robin across the agents plus an unassigned bucket.
func makeTickets(viewID, count int64, owners []int64) []mockTicket {
	tickets := make([]mockTicket, 0, count)
	for i := int64(0); i < count; i++ {
		t := mockTicket{ID: viewID*100000 + i}
		if idx := int(i) % (len(owners) + 1); idx < len(owners) {
			owner := owners[idx]
			t.AssigneeID = &owner
		}
		tickets = append(tickets, t)
	}
	return tickets
}

// pathID extracts the numeric id between prefix and suffix in a URL path.
func pathID(path, prefix, suffix string) (int64, bool) {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// mockLatency simulates small response time variance.
func mockLatency() time.Duration {
	return time.Duration(20+rand.Intn(80)) * time.Millisecond
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
