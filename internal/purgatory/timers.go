package purgatory

import (
	"container/heap"
	"sync"
	"time"
)

// DeadlineKind labels scheduled work for one session.
type DeadlineKind string

const (
	DeadlineWarn       DeadlineKind = "warn"
	DeadlineExpire     DeadlineKind = "expire"
	DeadlinePromote    DeadlineKind = "promote"
	DeadlineCheckpoint DeadlineKind = "checkpoint"
)

// Deadline is one pending timer entry.
type Deadline struct {
	ChatID    string
	Kind      DeadlineKind
	At        time.Time
	Threshold time.Duration // warn entries only

	seq       uint64
	index     int
	cancelled bool
}

type deadlineHeap []*Deadline

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *deadlineHeap) Push(x any) {
	d := x.(*Deadline)
	d.index = len(*h)
	*h = append(*h, d)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// DeadlineQueue is a logical timer wheel for all sessions: a min-heap keyed
// by fire time, drained by a single goroutine. Cancellation marks entries
// in O(log n) instead of leaving per-session timers running.
type DeadlineQueue struct {
	mu      sync.Mutex
	heap    deadlineHeap
	bySess  map[string][]*Deadline
	seq     uint64
	wake    chan struct{}
	stopCh  chan struct{}
	stopped sync.Once

	fire   func(Deadline)
	submit func(func())
}

// NewDeadlineQueue creates a queue that calls fire for each due entry via
// submit (a worker-pool dispatch; nil falls back to plain goroutines).
func NewDeadlineQueue(fire func(Deadline), submit func(func())) *DeadlineQueue {
	if submit == nil {
		submit = func(fn func()) { go fn() }
	}
	return &DeadlineQueue{
		bySess: make(map[string][]*Deadline),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		fire:   fire,
		submit: submit,
	}
}

func (q *DeadlineQueue) Start() { go q.run() }

func (q *DeadlineQueue) Stop() {
	q.stopped.Do(func() { close(q.stopCh) })
}

// Schedule adds an entry; it fires at the given time unless cancelled first.
func (q *DeadlineQueue) Schedule(chatID string, kind DeadlineKind, at time.Time, threshold time.Duration) {
	q.mu.Lock()
	q.seq++
	d := &Deadline{ChatID: chatID, Kind: kind, At: at, Threshold: threshold, seq: q.seq}
	heap.Push(&q.heap, d)
	q.bySess[chatID] = append(q.bySess[chatID], d)
	q.mu.Unlock()
	q.poke()
}

// Cancel marks every pending entry for a session as cancelled. Called on any
// transition out of IN_PURGATORY so stale warnings/expiries become no-ops.
func (q *DeadlineQueue) Cancel(chatID string) {
	q.mu.Lock()
	for _, d := range q.bySess[chatID] {
		d.cancelled = true
	}
	delete(q.bySess, chatID)
	q.mu.Unlock()
}

// CancelKind cancels only entries of one kind (e.g. the checkpoint loop).
func (q *DeadlineQueue) CancelKind(chatID string, kind DeadlineKind) {
	q.mu.Lock()
	kept := q.bySess[chatID][:0]
	for _, d := range q.bySess[chatID] {
		if d.Kind == kind {
			d.cancelled = true
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		delete(q.bySess, chatID)
	} else {
		q.bySess[chatID] = kept
	}
	q.mu.Unlock()
}

// Pending reports how many live entries a session still has (tests).
func (q *DeadlineQueue) Pending(chatID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bySess[chatID])
}

func (q *DeadlineQueue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DeadlineQueue) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		q.mu.Lock()
		var wait time.Duration = time.Hour
		now := time.Now()
		var due []*Deadline
		for q.heap.Len() > 0 {
			head := q.heap[0]
			if head.cancelled {
				heap.Pop(&q.heap)
				continue
			}
			if head.At.After(now) {
				wait = head.At.Sub(now)
				break
			}
			heap.Pop(&q.heap)
			q.detach(head)
			due = append(due, head)
		}
		q.mu.Unlock()

		for _, d := range due {
			entry := *d
			q.submit(func() { q.fire(entry) })
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.stopCh:
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// detach removes a popped entry from the per-session index. Caller holds mu.
func (q *DeadlineQueue) detach(d *Deadline) {
	list := q.bySess[d.ChatID]
	for i, e := range list {
		if e == d {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(q.bySess, d.ChatID)
	} else {
		q.bySess[d.ChatID] = list
	}
}
