package compute

import (
	"time"

	"github.com/gogpu/compute/backend"
)

// SharedEvent is a monotonically increasing 64-bit counter usable for
// cross-queue and host/device synchronization. Signaling a value lower
// than the current one is a no-op.
//
// Gated on Capabilities().SupportsSharedEvents.
type SharedEvent struct {
	ctx *Context
	id  backend.EventID
}

// NewSharedEvent creates a shared event starting at zero.
func (c *Context) NewSharedEvent() (*SharedEvent, error) {
	if err := c.checkOpen("NewSharedEvent"); err != nil {
		return nil, err
	}
	if !c.caps.SupportsSharedEvents {
		return nil, newError(ErrNotSupported, "NewSharedEvent", "device %q has no shared events", c.caps.DeviceName)
	}
	id, err := c.dev.CreateEvent()
	if err != nil {
		return nil, newError(ErrDeviceFailed, "NewSharedEvent", "%v", err)
	}
	return &SharedEvent{ctx: c, id: id}, nil
}

// Signal raises the event to value from the host side.
func (e *SharedEvent) Signal(value uint64) error {
	if e.id == backend.InvalidID {
		return newError(ErrInvalidArgument, "SharedEvent.Signal", "event is destroyed")
	}
	if err := e.ctx.dev.SignalEvent(e.id, value); err != nil {
		return newError(ErrDeviceFailed, "SharedEvent.Signal", "%v", err)
	}
	return nil
}

// SignaledValue returns the current counter value.
func (e *SharedEvent) SignaledValue() (uint64, error) {
	if e.id == backend.InvalidID {
		return 0, newError(ErrInvalidArgument, "SharedEvent.SignaledValue", "event is destroyed")
	}
	v, err := e.ctx.dev.EventValue(e.id)
	if err != nil {
		return 0, newError(ErrDeviceFailed, "SharedEvent.SignaledValue", "%v", err)
	}
	return v, nil
}

// Check reports whether the event has reached value, without blocking.
func (e *SharedEvent) Check(value uint64) (bool, error) {
	v, err := e.SignaledValue()
	if err != nil {
		return false, err
	}
	return v >= value, nil
}

// Wait blocks until the event reaches value or the timeout elapses, and
// reports whether the value was reached. A timeout <= 0 waits forever.
// Wait may be called from any goroutine.
func (e *SharedEvent) Wait(value uint64, timeout time.Duration) (bool, error) {
	if e.id == backend.InvalidID {
		return false, newError(ErrInvalidArgument, "SharedEvent.Wait", "event is destroyed")
	}
	ok, err := e.ctx.dev.WaitEvent(e.id, value, timeout)
	if err != nil {
		return false, newError(ErrDeviceFailed, "SharedEvent.Wait", "%v", err)
	}
	return ok, nil
}

// Destroy releases the event. Waiters already blocked keep their timeout
// behavior; further use of the handle errors.
func (e *SharedEvent) Destroy() {
	if e.id == backend.InvalidID {
		return
	}
	e.ctx.dev.DestroyEvent(e.id)
	e.id = backend.InvalidID
}
