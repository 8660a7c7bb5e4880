package signal

import (
	"context"
	"sync"
)

// Completion is the one-shot outcome of a remote operation. It can be
// awaited any number of times; the first resolution wins.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve records the outcome. Calls after the first are ignored.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Await blocks until the operation resolves or ctx is done.
func (c *Completion) Await(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolved exposes the completion's done channel for use in select
// loops.
func (c *Completion) Resolved() <-chan struct{} {
	return c.done
}

// Done reports whether the operation has resolved, without blocking.
func (c *Completion) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
