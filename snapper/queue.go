package snapper

import "sync"

// A FIFO of pending requests shared by all workers of a pool.
type requestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*request
	closed bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append a request. Returns false if the queue has been closed.
func (q *requestQueue) push(req *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, req)
	q.cond.Signal()
	return true
}

// Block until a request is available. Returns false once the queue has been
// closed.
func (q *requestQueue) pop() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req, true
}

// Close the queue, wake all waiting workers and return the requests that
// were never dequeued.
func (q *requestQueue) close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	drained := q.items
	q.items = nil
	q.cond.Broadcast()
	return drained
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
