package reportclient

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type job struct {
	ctx  context.Context
	fn   func(context.Context) (interface{}, error)
	val  interface{}
	err  error
	done chan struct{}
}

// Queue runs requests one at a time in arrival order. Callers asking for a
// key that is already pending or running wait for that call instead of
// enqueueing a second one.
type Queue struct {
	group singleflight.Group

	mu      sync.Mutex
	pending []*job
	running bool
}

func NewQueue() *Queue {
	return &Queue{}
}

// Do enqueues fn under key and waits for its result. The context of the
// caller that enqueued the job is the one passed to fn.
func (q *Queue) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := q.group.DoChan(key, func() (interface{}, error) {
		j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}
		q.enqueue(j)
		<-j.done
		return j.val, j.err
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len is the number of jobs waiting behind the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) enqueue(j *job) {
	q.mu.Lock()
	q.pending = append(q.pending, j)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.err = err
		} else {
			j.val, j.err = j.fn(j.ctx)
		}
		close(j.done)
	}
}
