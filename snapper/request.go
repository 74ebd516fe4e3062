package snapper

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type result struct {
	snap *Snapshot
	err  error
}

// A queued capture. Its result is delivered exactly once.
type request struct {
	id   string
	ctx  context.Context
	view View

	once sync.Once
	done chan result
}

func newRequest(ctx context.Context, view View) *request {
	return &request{
		id:   uuid.NewString(),
		ctx:  ctx,
		view: view,
		done: make(chan result, 1),
	}
}

// Deliver the result. Calls after the first one are ignored and return false.
func (r *request) resolve(snap *Snapshot, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.done <- result{snap: snap, err: err}
		resolved = true
	})
	return resolved
}

// Block until the request is resolved or ctx is done.
func (r *request) wait(ctx context.Context) (*Snapshot, error) {
	select {
	case res := <-r.done:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
