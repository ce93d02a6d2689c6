package compute

import (
	"errors"
	"log/slog"

	"github.com/gogpu/compute/backend"
)

// Capabilities is the device feature and limit surface, computed once when
// the Context is created. Feature flags are true only when both the
// hardware and the backend implementation support the feature; gated
// constructors return ErrNotSupported when their flag is false and are
// safe to call speculatively.
type Capabilities = backend.Capabilities

// Context owns one backend device and every resource created from it.
// Create one with NewContext and release it with Close.
//
// A Context is driven from one goroutine at a time. Fence and SharedEvent
// waits are the exception and may run on any goroutine.
type Context struct {
	dev   backend.Device
	caps  Capabilities
	log   *slog.Logger
	label string

	// rec is non-nil while a batch is recording.
	rec *recording

	closed bool
}

// NewContext opens a device and wraps it in a Context.
//
// With no options the registered backends are tried in priority order
// (wgpu first, cpu as fallback). WithBackend pins a specific backend and
// fails instead of falling back.
func NewContext(opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		log = newNopLogger()
	}
	if o.label != "" {
		log = log.With("context", o.label)
	}

	var (
		dev backend.Device
		err error
	)
	if o.backend != "" {
		if !backend.IsRegistered(o.backend) {
			return nil, newError(ErrUnsupportedBackend, "NewContext", "backend %q is not registered (imported?)", o.backend)
		}
		dev, err = backend.Open(o.backend)
	} else {
		dev, err = backend.Default()
	}
	if err != nil {
		if errors.Is(err, backend.ErrBackendNotAvailable) {
			return nil, newError(ErrUnsupportedBackend, "NewContext", "no compute backend registered")
		}
		return nil, newError(ErrBackendInitFailed, "NewContext", "%v", err)
	}

	ctx := &Context{
		dev:   dev,
		caps:  dev.Capabilities(),
		log:   log,
		label: o.label,
	}
	log.Info("compute context created",
		"backend", dev.Name(),
		"device", ctx.caps.DeviceName)
	return ctx, nil
}

// Close releases the device. The caller guarantees no async work is
// outstanding (wait on the fences first). Close is idempotent.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.dev.Close()
	c.log.Info("compute context closed", "backend", c.dev.Name())
}

// Backend returns the name of the backend driving this Context.
func (c *Context) Backend() string { return c.dev.Name() }

// Capabilities returns the device capability surface. The value was
// computed once at creation and does not change over the Context lifetime.
func (c *Context) Capabilities() Capabilities { return c.caps }

// SetLabel attaches a debug label to the Context, included on subsequent
// log lines.
func (c *Context) SetLabel(label string) {
	c.label = label
	c.log = c.log.With("context", label)
}

// Logger returns the Context's logger.
func (c *Context) Logger() *slog.Logger { return c.log }

// checkOpen guards operations on a closed Context.
func (c *Context) checkOpen(op string) error {
	if c.closed {
		return newError(ErrDeviceFailed, op, "context is closed")
	}
	return nil
}
