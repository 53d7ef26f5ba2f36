package server

import (
	"runtime/debug"
	"sync"

	"github.com/Brownie44l1/httpconnector/internal/logging"
)

// workQueue is how many tasks may wait for a free worker before Dispatch
// blocks.
const workQueue = 1024

type task struct {
	fn      func()
	onPanic func(any)
}

// WorkerPool runs application callbacks on a fixed number of goroutines,
// so that request parsing and socket I/O never wait on application code.
type WorkerPool struct {
	logger logging.Logger
	tasks  chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts n workers.
func NewWorkerPool(n int, logger logging.Logger) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		logger: logger,
		tasks:  make(chan task, workQueue),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p
}

// Dispatch queues fn. After Stop, tasks run on their own goroutine so that
// completion callbacks still see their errors.
func (p *WorkerPool) Dispatch(fn func(), onPanic func(any)) {
	t := task{fn: fn, onPanic: onPanic}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		go p.run(t)
		return
	}
	p.tasks <- t
}

// Stop lets the workers finish the queued tasks and waits for them.
func (p *WorkerPool) Stop() {
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

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(t)
	}
}

func (p *WorkerPool) run(t task) {
	defer func() {
		if err := recover(); err != nil {
			p.logger.Error("panic recovered",
				logging.F("error", err),
				logging.F("stack", string(debug.Stack())),
			)
			if t.onPanic != nil {
				t.onPanic(err)
			}
		}
	}()

	t.fn()
}
