// Package signal models a remote control point: an addressable value
// that can be read, written and awaited-until-equal, every operation
// bounded by a timeout.
package signal

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds remote operations that have no better bound.
	DefaultTimeout = 10 * time.Second

	// pollInterval is the sampling period of BusyWaitUntil.
	pollInterval = 10 * time.Millisecond
)

// Signal is one remote control point of value type T.
//
// A write has two independent notions of "done": the remote
// acknowledgment of the write itself (the Completion returned by Put)
// and the value being observed to settle at a target (the Completion
// returned by AwaitValue). The two may race and must never be conflated.
type Signal[T any] interface {
	// Name returns the control point's address, used in errors and logs.
	Name() string

	// Get reads the current value.
	Get(ctx context.Context) (T, error)

	// Put issues a write and returns immediately. The returned Completion
	// resolves when the remote acknowledges the write, or fails with a
	// timeout after the given bound.
	Put(ctx context.Context, value T, timeout time.Duration) (*Completion, error)

	// AwaitValue registers a settle callback that resolves once the value
	// is observed to satisfy match, or fails with a timeout. The transport
	// permits at most one pending settle registration per control point;
	// a second concurrent registration fails with ErrSettlePending.
	// Stop paths that may run while a registration is outstanding must use
	// BusyWaitUntil instead.
	AwaitValue(match func(T) bool, timeout time.Duration) (*Completion, error)

	// Subscribe returns a channel of value updates, the current value
	// first. cancel releases the subscription.
	Subscribe(ctx context.Context) (updates <-chan T, cancel func(), err error)
}

// Set writes value and waits for the remote acknowledgment.
func Set[T any](ctx context.Context, sig Signal[T], value T, timeout time.Duration) error {
	ack, err := sig.Put(ctx, value, timeout)
	if err != nil {
		return err
	}
	return ack.Await(ctx)
}

// SetAndWaitForValue registers a settle callback for the target value,
// then issues the write. The returned Completion resolves when the value
// is observed to reach target. If waitForSetCompletion, the write
// acknowledgment is awaited before returning; otherwise the
// acknowledgment and the settle race, which is what arm-style start
// operations want.
func SetAndWaitForValue[T comparable](ctx context.Context, sig Signal[T], target T, timeout time.Duration, waitForSetCompletion bool) (*Completion, error) {
	settle, err := sig.AwaitValue(func(v T) bool { return v == target }, timeout)
	if err != nil {
		return nil, err
	}
	ack, err := sig.Put(ctx, target, timeout)
	if err != nil {
		// The write never happened, so the value will not settle; resolve
		// the registration so the point's settle slot is freed instead of
		// staying occupied until its timeout.
		settle.Resolve(err)
		return nil, err
	}
	if waitForSetCompletion {
		if err := ack.Await(ctx); err != nil {
			settle.Resolve(err)
			return nil, err
		}
	}
	return settle, nil
}

// BusyWaitUntil polls the signal until match holds, bounded by timeout.
// It never registers a settle callback, so it is the only safe way to
// wait on a control point that may already hold one (disarm, close).
func BusyWaitUntil[T any](ctx context.Context, sig Signal[T], match func(T) bool, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		v, err := sig.Get(ctx)
		if err != nil {
			return err
		}
		if match(v) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &TimeoutError{Signal: sig.Name(), Op: "busy-wait", Timeout: timeout}
		case <-tick.C:
		}
	}
}
