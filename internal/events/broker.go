package events

import "sync"

// Event types published on the run lifecycle stream.
const (
	TypeRunStatus     = "run.status"
	TypeTasksDerived  = "run.tasks_derived"
	TypeModelReady    = "run.model_ready"
	TypeScheduleReady = "run.schedule_ready"
)

// A run lifecycle notification.
type Event struct {
	Type  string         `json:"type"`
	RunID int64          `json:"run_id"`
	Data  map[string]any `json:"data,omitempty"`
}

// Broker fans run lifecycle events out to subscribers. Publish never
// blocks; slow subscribers drop events rather than stalling the
// pipeline.
type Broker interface {
	Subscribe(runID int64) chan Event
	Unsubscribe(runID int64, ch chan Event)
	Publish(runID int64, evt Event)
}

// MemoryBroker is the in-process Broker used for single-instance
// deployments and tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[int64]map[chan Event]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[int64]map[chan Event]struct{}{}}
}

func (b *MemoryBroker) Subscribe(runID int64) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan Event]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBroker) Unsubscribe(runID int64, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if m == nil {
		return
	}
	// Close only channels we still own so a second unsubscribe is a
	// no-op instead of a double close.
	if _, ok := m[ch]; ok {
		delete(m, ch)
		close(ch)
	}
	if len(m) == 0 {
		delete(b.subs, runID)
	}
}

func (b *MemoryBroker) Publish(runID int64, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[runID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
