package worker

import (
	"context"
	"sync"
)

// queueDepth bounds each worker's pending-task backlog; overflow fails
// fast with exit_code=1 instead of growing unbounded.
const queueDepth = 16

// Pool maps session keys to lazily-created single-threaded workers.
type Pool struct {
	handle HandleFunc
	key    KeyFunc

	mu      sync.Mutex
	workers map[string]*sessionWorker
}

// New builds a Pool that dispatches each request to handle after deriving
// its session key via key.
func New(handle HandleFunc, key KeyFunc) *Pool {
	return &Pool{handle: handle, key: key, workers: map[string]*sessionWorker{}}
}

// sessionWorker owns one FIFO queue and the single goroutine draining it,
// so requests aimed at the same pane are strictly serialized.
type sessionWorker struct {
	tasks chan queuedTask
}

// Submit computes the request's session key, creates its worker lazily,
// and enqueues the task. It returns a channel that receives exactly one
// Result once the worker processes the task, or immediately if the queue
// is full (exit_code=1, no work performed).
func (p *Pool) Submit(ctx context.Context, req Request) <-chan Result {
	done := make(chan Result, 1)

	key, err := p.key(ctx, req)
	if err != nil {
		done <- Result{ReqID: req.ID, ExitCode: 1, Reply: "no session: " + err.Error()}
		return done
	}

	w := p.workerFor(key)
	task := queuedTask{req: req, ctx: ctx, done: done}
	select {
	case w.tasks <- task:
	default:
		done <- Result{ReqID: req.ID, ExitCode: 1, Reply: "request queue full for session", SessionKey: key}
	}
	return done
}

func (p *Pool) workerFor(key string) *sessionWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[key]; ok {
		return w
	}
	w := &sessionWorker{tasks: make(chan queuedTask, queueDepth)}
	p.workers[key] = w
	go p.run(w)
	return w
}

// run pulls the next task, runs the handler to completion, signals
// completion, and loops, keeping each session's requests strictly
// single-threaded. Workers are never torn down individually; they idle on
// an empty channel until the pool is discarded.
func (p *Pool) run(w *sessionWorker) {
	for task := range w.tasks {
		result := p.handle(task.ctx, task.req)
		task.done <- result
	}
}

// NumWorkers reports how many session keys currently have a worker, for
// diagnostics and tests.
func (p *Pool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
