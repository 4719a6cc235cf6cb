package discovery

import (
	"context"
	"sync"

	"github.com/srg/blefit/internal/groutine"
)

// workQueue runs jobs one at a time, in submission order, on a single goroutine.
// Post never blocks; the backlog is unbounded.
type workQueue struct {
	mu     sync.Mutex
	jobs   []func()
	wake   chan struct{}
	closed bool
	group  *groutine.Group
}

func newWorkQueue(name string) *workQueue {
	q := &workQueue{
		wake:  make(chan struct{}, 1),
		group: groutine.NewGroup(context.Background()),
	}
	q.group.Go(name, q.run)
	return q
}

// post enqueues job. It reports false once the queue is closed.
func (q *workQueue) post(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close rejects further jobs, runs the backlog and waits for the worker to exit.
// It must not be called from a job.
func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.group.Stop()
}

func (q *workQueue) run(ctx context.Context) {
	for {
		for {
			q.mu.Lock()
			if len(q.jobs) == 0 {
				q.mu.Unlock()
				break
			}
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			job()
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			q.mu.Lock()
			drained := len(q.jobs) == 0
			q.mu.Unlock()
			if drained {
				return
			}
		}
	}
}
