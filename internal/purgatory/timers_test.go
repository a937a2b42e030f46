package purgatory

import (
	"sync"
	"testing"
	"time"
)

type fireLog struct {
	mu    sync.Mutex
	fired []Deadline
}

func (l *fireLog) add(d Deadline) {
	l.mu.Lock()
	l.fired = append(l.fired, d)
	l.mu.Unlock()
}

func (l *fireLog) snapshot() []Deadline {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Deadline, len(l.fired))
	copy(out, l.fired)
	return out
}

func (l *fireLog) waitLen(t *testing.T, n int, timeout time.Duration) []Deadline {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := l.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d fired entries within %s, got %d", n, timeout, len(l.snapshot()))
	return nil
}

func newTestQueue(t *testing.T) (*DeadlineQueue, *fireLog) {
	t.Helper()
	log := &fireLog{}
	q := NewDeadlineQueue(log.add, nil)
	q.Start()
	t.Cleanup(q.Stop)
	return q, log
}

func TestQueueFiresInDeadlineOrder(t *testing.T) {
	q, log := newTestQueue(t)
	now := time.Now()

	q.Schedule("a", DeadlineExpire, now.Add(120*time.Millisecond), 0)
	q.Schedule("a", DeadlineWarn, now.Add(40*time.Millisecond), 30*time.Second)
	q.Schedule("b", DeadlineWarn, now.Add(80*time.Millisecond), time.Minute)

	fired := log.waitLen(t, 3, time.Second)
	if fired[0].Kind != DeadlineWarn || fired[0].ChatID != "a" {
		t.Fatalf("first fire wrong: %+v", fired[0])
	}
	if fired[1].ChatID != "b" {
		t.Fatalf("second fire wrong: %+v", fired[1])
	}
	if fired[2].Kind != DeadlineExpire {
		t.Fatalf("third fire wrong: %+v", fired[2])
	}
	if fired[0].Threshold != 30*time.Second {
		t.Fatalf("threshold lost: %s", fired[0].Threshold)
	}
}

func TestQueueCancelSuppressesPending(t *testing.T) {
	q, log := newTestQueue(t)
	now := time.Now()

	q.Schedule("a", DeadlineWarn, now.Add(60*time.Millisecond), 0)
	q.Schedule("a", DeadlineExpire, now.Add(80*time.Millisecond), 0)
	q.Schedule("b", DeadlineExpire, now.Add(60*time.Millisecond), 0)
	q.Cancel("a")

	if q.Pending("a") != 0 {
		t.Fatalf("expected no pending entries for a")
	}

	fired := log.waitLen(t, 1, time.Second)
	time.Sleep(150 * time.Millisecond)
	fired = log.snapshot()
	if len(fired) != 1 || fired[0].ChatID != "b" {
		t.Fatalf("expected only b to fire, got %+v", fired)
	}
}

func TestQueueCancelKindKeepsOthers(t *testing.T) {
	q, _ := newTestQueue(t)
	now := time.Now()

	q.Schedule("a", DeadlineWarn, now.Add(time.Hour), 0)
	q.Schedule("a", DeadlineCheckpoint, now.Add(time.Hour), 0)
	q.CancelKind("a", DeadlineCheckpoint)

	if q.Pending("a") != 1 {
		t.Fatalf("expected 1 pending entry, got %d", q.Pending("a"))
	}
}

func TestQueueEarlierScheduleWakesLoop(t *testing.T) {
	q, log := newTestQueue(t)
	now := time.Now()

	// 먼 마감 뒤에 더 가까운 마감을 넣어도 제때 발화해야 한다
	q.Schedule("far", DeadlineExpire, now.Add(time.Hour), 0)
	q.Schedule("near", DeadlineExpire, now.Add(50*time.Millisecond), 0)

	fired := log.waitLen(t, 1, time.Second)
	if fired[0].ChatID != "near" {
		t.Fatalf("expected near to fire first, got %+v", fired[0])
	}
}
