package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"detector-capture/pkg/signal"
	"detector-capture/pkg/utils"
)

const (
	// DefaultDeadtime is the readout gap most device families need
	// between exposure and acquire period.
	DefaultDeadtime = 2 * time.Millisecond

	disarmTimeout = time.Second
)

// DefaultGoodStates are the terminal states after which an acquisition
// counts as a successful stop.
var DefaultGoodStates = []State{StateIdle, StateAborted}

// Controller owns the arm/disarm/wait-for-idle lifecycle of one
// detector driver. Configuration calls (Prepare, exposure) are expected
// from a single orchestrator; the arm handle is mutex-guarded so
// WaitForIdle may run from another goroutine than Arm.
type Controller struct {
	drv          *DriverIO
	goodStates   []State
	deadtime     time.Duration
	frameTimeout time.Duration
	logger       *zap.SugaredLogger

	mu        sync.Mutex
	armStatus *signal.Completion
}

type Option func(*Controller)

// WithGoodStates replaces the set of acceptable terminal states.
func WithGoodStates(states ...State) Option {
	return func(c *Controller) { c.goodStates = states }
}

// WithDeadtime overrides the per-family readout deadtime.
func WithDeadtime(d time.Duration) Option {
	return func(c *Controller) { c.deadtime = d }
}

func NewController(drv *DriverIO, opts ...Option) *Controller {
	c := &Controller{
		drv:          drv,
		goodStates:   DefaultGoodStates,
		deadtime:     DefaultDeadtime,
		frameTimeout: signal.DefaultTimeout,
		logger:       utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deadtime returns the readout gap for the given exposure. The base
// family uses a fixed constant regardless of exposure.
func (c *Controller) Deadtime(exposure time.Duration) time.Duration {
	return c.deadtime
}

// Prepare validates the trigger spec and configures frame count and
// image mode on the driver. Only software-internal triggering is
// accepted; nothing is written when the spec is rejected.
func (c *Controller) Prepare(ctx context.Context, trigger TriggerSpec) error {
	if trigger.Kind != TriggerInternal {
		return fmt.Errorf("%w: got %s trigger", ErrUnsupportedTriggerMode, trigger.Kind)
	}

	acquireTime, err := c.drv.AcquireTime.Get(ctx)
	if err != nil {
		return err
	}
	c.frameTimeout = signal.DefaultTimeout + time.Duration(acquireTime*float64(time.Second))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return signal.Set(gctx, c.drv.NumImages, trigger.TotalTriggers, signal.DefaultTimeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, c.drv.ImageMode, ImageModeMultiple, signal.DefaultTimeout)
	})
	return g.Wait()
}

// SetExposureTimeAndAcquirePeriod writes the exposure and the derived
// acquire period (exposure plus deadtime). A non-positive exposure is a
// no-op; most device families want exactly this, specialized ones wrap
// the controller.
func (c *Controller) SetExposureTimeAndAcquirePeriod(ctx context.Context, exposure, timeout time.Duration) error {
	if exposure <= 0 {
		return nil
	}
	period := exposure + c.Deadtime(exposure)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return signal.Set(gctx, c.drv.AcquireTime, exposure.Seconds(), timeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, c.drv.AcquirePeriod, period.Seconds(), timeout)
	})
	return g.Wait()
}

// Arm starts acquiring and stashes the completion that WaitForIdle
// awaits. A new Arm overwrites any previous completion.
func (c *Controller) Arm(ctx context.Context) error {
	status, err := c.startAcquiringAndEnsureStatus(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.armStatus = status
	c.mu.Unlock()
	return nil
}

// WaitForIdle awaits the completion stashed by Arm, surfacing a
// BadTerminalStateError when acquisition stopped badly. Without a prior
// Arm it returns immediately.
func (c *Controller) WaitForIdle(ctx context.Context) error {
	c.mu.Lock()
	status := c.armStatus
	c.mu.Unlock()
	if status == nil {
		return nil
	}
	return status.Await(ctx)
}

// Disarm stops acquiring. Arm may still hold the one settle callback
// allowed on the acquire point, so the stop is acknowledged by polling,
// never by a second settle registration.
func (c *Controller) Disarm(ctx context.Context) error {
	if _, err := c.drv.Acquire.Put(ctx, false, disarmTimeout); err != nil {
		return err
	}
	return signal.BusyWaitUntil(ctx, c.drv.Acquire, func(v bool) bool { return !v }, disarmTimeout)
}

// startAcquiringAndEnsureStatus writes acquire=true and derives a
// completion that, once the value is observed to settle at true, reads
// the terminal detector state and fails unless it is a good one. The
// write acknowledgment is deliberately not awaited; the settle and the
// acknowledgment are allowed to race.
func (c *Controller) startAcquiringAndEnsureStatus(ctx context.Context) (*signal.Completion, error) {
	settle, err := signal.SetAndWaitForValue(ctx, c.drv.Acquire, true, c.frameTimeout, false)
	if err != nil {
		return nil, err
	}

	status := signal.NewCompletion()
	go func() {
		// NOTE: the settle event and the state readback are two separate
		// remote reads; the state can reflect a moment slightly before or
		// after the value settled.
		if err := settle.Await(context.Background()); err != nil {
			status.Resolve(err)
			return
		}
		state, err := c.drv.DetectorState.Get(context.Background())
		if err != nil {
			status.Resolve(err)
			return
		}
		for _, good := range c.goodStates {
			if state == good {
				status.Resolve(nil)
				return
			}
		}
		c.logger.Errorf("acquisition ended in bad state: %s", state)
		status.Resolve(&BadTerminalStateError{State: state, GoodStates: c.goodStates})
	}()
	return status, nil
}
