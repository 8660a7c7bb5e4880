package signal

import (
	"context"
	"time"
)

// Watcher pulls successive values of a signal, current value first.
// It never ends on its own: the consumer stops pulling, or a pull fails
// when no update arrives within the watcher timeout.
type Watcher[T any] struct {
	name    string
	updates <-chan T
	cancel  func()
	timeout time.Duration
}

// Observe subscribes to sig and returns a single-consumer watcher.
// timeout bounds each individual Next call, not the watcher's lifetime.
func Observe[T any](ctx context.Context, sig Signal[T], timeout time.Duration) (*Watcher[T], error) {
	updates, cancel, err := sig.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watcher[T]{
		name:    sig.Name(),
		updates: updates,
		cancel:  cancel,
		timeout: timeout,
	}, nil
}

// Next returns the next observed value, failing with a TimeoutError if
// none arrives in time.
func (w *Watcher[T]) Next(ctx context.Context) (T, error) {
	var zero T
	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	select {
	case v, ok := <-w.updates:
		if !ok {
			return zero, context.Canceled
		}
		return v, nil
	case <-deadline.C:
		return zero, &TimeoutError{Signal: w.name, Op: "observe", Timeout: w.timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stop releases the subscription. Next calls after Stop fail.
func (w *Watcher[T]) Stop() {
	w.cancel()
}
