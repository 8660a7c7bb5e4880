// Package sim provides in-process soft signals implementing the
// signal.Signal interface. They back the simulated detector and the
// tests; no remote transport is involved, but the transport's contract
// is kept: acknowledgment and settle are separate completions and a
// control point holds at most one pending settle registration.
package sim

import (
	"context"
	"sync"
	"time"

	"detector-capture/pkg/signal"
)

const subBuffer = 64

// Signal is a soft control point holding its value in memory.
type Signal[T any] struct {
	name string

	mu            sync.Mutex
	value         T
	subs          map[int]chan T
	nextSub       int
	settlePending bool
	puts          int

	getErr error
	putErr error

	onPut func(T)
}

func New[T any](name string, initial T) *Signal[T] {
	return &Signal[T]{
		name:  name,
		value: initial,
		subs:  make(map[int]chan T),
	}
}

func (s *Signal[T]) Name() string { return s.name }

func (s *Signal[T]) Get(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		var zero T
		return zero, s.getErr
	}
	return s.value, nil
}

func (s *Signal[T]) Put(ctx context.Context, value T, timeout time.Duration) (*signal.Completion, error) {
	s.mu.Lock()
	if s.putErr != nil {
		err := s.putErr
		s.mu.Unlock()
		return nil, err
	}
	s.puts++
	s.applyLocked(value)
	hook := s.onPut
	s.mu.Unlock()

	// Record processing runs before the write is acknowledged, so side
	// effects are in place once the ack resolves.
	if hook != nil {
		hook(value)
	}

	ack := signal.NewCompletion()
	ack.Resolve(nil)
	return ack, nil
}

// OnPut installs a device-side processing hook that runs synchronously
// on every accepted write, before the acknowledgment resolves. The hook
// must not write back to this signal.
func (s *Signal[T]) OnPut(hook func(T)) {
	s.mu.Lock()
	s.onPut = hook
	s.mu.Unlock()
}

func (s *Signal[T]) AwaitValue(match func(T) bool, timeout time.Duration) (*signal.Completion, error) {
	s.mu.Lock()
	if s.settlePending {
		s.mu.Unlock()
		return nil, signal.ErrSettlePending
	}
	s.settlePending = true
	current := s.value
	ch := make(chan T, subBuffer)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	settle := signal.NewCompletion()
	// The registration is released before the completion resolves, so a
	// caller returning from Await sees the settle slot free again.
	finish := func(err error) {
		s.release(id)
		settle.Resolve(err)
	}
	go func() {
		if match(current) {
			finish(nil)
			return
		}
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		for {
			select {
			case v := <-ch:
				if match(v) {
					finish(nil)
					return
				}
			case <-settle.Resolved():
				// resolved externally (e.g. the write behind it failed);
				// free the registration
				s.release(id)
				return
			case <-deadline.C:
				finish(&signal.TimeoutError{Signal: s.name, Op: "await-value", Timeout: timeout})
				return
			}
		}
	}()
	return settle, nil
}

func (s *Signal[T]) Subscribe(ctx context.Context) (<-chan T, func(), error) {
	s.mu.Lock()
	ch := make(chan T, subBuffer)
	ch <- s.value
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// release drops a settle subscription and clears the pending flag.
func (s *Signal[T]) release(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.settlePending = false
	s.mu.Unlock()
}

func (s *Signal[T]) applyLocked(value T) {
	s.value = value
	for _, ch := range s.subs {
		select {
		case ch <- value:
		default:
			// slow consumer: evict the oldest buffered update so the
			// newest value is never the one lost
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}

// SettlePending reports whether a settle registration is outstanding.
func (s *Signal[T]) SettlePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlePending
}

// Puts returns the number of writes accepted so far.
func (s *Signal[T]) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// FailGets makes subsequent Get calls fail with err (nil to clear).
func (s *Signal[T]) FailGets(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// FailPuts makes subsequent Put calls fail with err (nil to clear).
func (s *Signal[T]) FailPuts(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}
