package middleware

import (
	"context"
	"sync"
	"time"
)

// failureBudget is how many consecutive probe failures a required component
// may accumulate before the orchestrator escalates to PhaseError.
const failureBudget = 3

// Probe is one health check. Required probes count against the failure
// budget; optional ones only mark the orchestrator degraded.
type Probe struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
	// Recover, when set, is invoked during automatic recovery.
	Recover func(ctx context.Context) error
}

// ComponentHealth is the last observed state of one probe.
type ComponentHealth struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	Required    bool      `json:"required"`
	Consecutive int       `json:"consecutive_failures"`
	LastError   string    `json:"last_error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

type healthBoard struct {
	mu    sync.RWMutex
	state map[string]ComponentHealth
}

func newHealthBoard() *healthBoard {
	return &healthBoard{state: make(map[string]ComponentHealth)}
}

func (b *healthBoard) record(p Probe, err error) ComponentHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.state[p.Name]
	cur.Name = p.Name
	cur.Required = p.Required
	cur.CheckedAt = time.Now()
	if err != nil {
		cur.Healthy = false
		cur.Consecutive++
		cur.LastError = err.Error()
	} else {
		cur.Healthy = true
		cur.Consecutive = 0
		cur.LastError = ""
	}
	b.state[p.Name] = cur
	recordComponentHealth(p.Name, cur.Healthy)
	return cur
}

func (b *healthBoard) snapshot() map[string]ComponentHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]ComponentHealth, len(b.state))
	for k, v := range b.state {
		out[k] = v
	}
	return out
}

func (b *healthBoard) reset(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.state[name]
	if !ok {
		return
	}
	cur.Consecutive = 0
	b.state[name] = cur
}
