package middleware

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
)

// Pool is a small fixed worker pool shared by timer callbacks, health probes
// and audit persistence. Keeps slow work off the WS read loop.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	p := &Pool{tasks: make(chan func(), queueDepth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Submit enqueues fn. When the queue is full the task is dropped with a log
// line rather than blocking the caller.
func (p *Pool) Submit(fn func()) {
	if p == nil || fn == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	select {
	case p.tasks <- fn:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		obslog.L().Warn("worker_pool_saturated", zap.Int("depth", cap(p.tasks)))
	}
}

// Stop closes the queue and waits for in-flight tasks.
func (p *Pool) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
