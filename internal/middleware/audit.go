package middleware

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one recorded flow event. Entries live in the in-memory ring;
// durable copies go to Postgres when a repository is attached.
type AuditEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	ChatID    string    `json:"chat_id"`
	Name      string    `json:"name"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	At        time.Time `json:"at"`
}

// AuditRing is a bounded ring buffer of recent flow events. Oldest entries
// are overwritten once capacity is reached.
type AuditRing struct {
	mu    sync.RWMutex
	buf   []AuditEntry
	next  int
	count int
}

func NewAuditRing(capacity int) *AuditRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &AuditRing{buf: make([]AuditEntry, capacity)}
}

// Append records an entry and returns it with its assigned event ID.
func (r *AuditRing) Append(e AuditEntry) AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
	return e
}

// Recent returns up to n entries, newest first.
func (r *AuditRing) Recent(n int) []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]AuditEntry, 0, n)
	idx := r.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += len(r.buf)
		}
		out = append(out, r.buf[idx])
		idx--
	}
	return out
}

func (r *AuditRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
