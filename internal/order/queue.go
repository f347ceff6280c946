package order

import "context"

// Queue buffers jobs between ingestion and the executor workers.
type Queue struct {
	ch chan Job
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Job, size)}
}

// Enqueue adds j without blocking and reports whether it was accepted.
func (q *Queue) Enqueue(j Job) bool {
	select {
	case q.ch <- j:
		return true
	default:
		return false
	}
}

// Len is the number of buffered jobs.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes jobs with a handler until ctx is canceled or the queue closes.
func (q *Queue) Drain(ctx context.Context, handler func(Job)) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			handler(j)
		}
	}
}
