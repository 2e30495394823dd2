package server

import (
	"sync"
	"time"
)

const (
	progressMaxEvents = 100
	progressMaxRuns   = 256
)

// ProgressEvent is a single recorded step of a run.
type ProgressEvent struct {
	Step   string    `json:"step"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// ProgressHub keeps a bounded in-memory trail of step events per run so
// clients can poll progress while a run is executing. Oldest runs are
// evicted once the hub tracks more than progressMaxRuns runs.
type ProgressHub struct {
	mu     sync.Mutex
	events map[string][]ProgressEvent
	order  []string
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{events: make(map[string][]ProgressEvent)}
}

// Record appends an event for the run, dropping the oldest event once the
// per-run cap is reached.
func (h *ProgressHub) Record(runID, step, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.events[runID]; !ok {
		h.order = append(h.order, runID)
		if len(h.order) > progressMaxRuns {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.events, oldest)
		}
	}
	evs := append(h.events[runID], ProgressEvent{Step: step, Detail: detail, At: time.Now()})
	if len(evs) > progressMaxEvents {
		evs = evs[len(evs)-progressMaxEvents:]
	}
	h.events[runID] = evs
}

// Events returns a copy of the recorded events for the run.
func (h *ProgressHub) Events(runID string) []ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	evs := h.events[runID]
	out := make([]ProgressEvent, len(evs))
	copy(out, evs)
	return out
}
