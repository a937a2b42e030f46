package middleware

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 16)
	defer p.Stop()

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		p.Submit(func() { done.Add(1) })
	}

	deadline := time.Now().Add(time.Second)
	for done.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(10), done.Load())
}

func TestPoolStopWaitsForInflight(t *testing.T) {
	p := NewPool(1, 4)

	var done atomic.Bool
	p.Submit(func() {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	})
	p.Stop()
	assert.True(t, done.Load())
}

func TestPoolSubmitAfterStopIsNoop(t *testing.T) {
	p := NewPool(1, 4)
	p.Stop()
	// must not panic on a closed queue
	p.Submit(func() {})
}
