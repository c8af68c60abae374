package order

import "context"

// Queue buffers synthetic gateway lines until the dispatcher drains them.
type Queue struct {
	ch chan string
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan string, size)}
}

// Enqueue adds a line; it reports false when the queue is full.
func (q *Queue) Enqueue(line string) bool {
	select {
	case q.ch <- line:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain consumes lines with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-q.ch:
			handler(line)
		}
	}
}
