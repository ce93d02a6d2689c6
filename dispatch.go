package compute

import "github.com/gogpu/compute/backend"

// BufferBinding binds a buffer range at a kernel buffer index for one
// dispatch. It shadows any uniform bytes the kernel carries at the same
// index, for that dispatch only.
type BufferBinding struct {
	Index  uint32
	Buffer *Buffer

	// Offset is the byte offset into the buffer.
	Offset int

	// Size is the byte length to bind. 0 binds the rest of the buffer.
	Size int
}

// TextureBinding binds a texture at a kernel texture index.
type TextureBinding struct {
	Index   uint32
	Texture *Texture
}

// SamplerBinding binds a sampler at a kernel sampler index.
type SamplerBinding struct {
	Index   uint32
	Sampler *Sampler
}

// DispatchDesc describes one dispatch. The descriptor is value-copied
// when a dispatch is deferred (batches, indirect command buffers), so
// later mutation of the caller's copy has no effect on recorded work.
//
// Grid dimensions are total threads and must all be positive. Threadgroup
// all zeros asks the library to pick a size (see the auto sizing rules on
// Kernel); explicit sizes are validated against the kernel limits and
// must match a required threadgroup size when the kernel declares one.
type DispatchDesc struct {
	Kernel *Kernel

	Buffers  []BufferBinding
	Textures []TextureBinding
	Samplers []SamplerBinding

	Grid        [3]int
	Threadgroup [3]int

	// Label is an optional debug label for this dispatch.
	Label string
}

// Dispatch runs one dispatch synchronously: it submits and waits for
// completion. While a batch is recording, Dispatch only encodes into the
// batch and returns after validation; execution happens at EndBatch.
func (c *Context) Dispatch(desc DispatchDesc) error {
	if err := c.checkOpen("Dispatch"); err != nil {
		return err
	}
	cmd, err := c.lower("Dispatch", desc)
	if err != nil {
		return err
	}

	if c.rec != nil {
		return c.rec.encode("Dispatch", cmd)
	}

	comp, err := c.submitOne("Dispatch", desc.Label, cmd, nil)
	if err != nil {
		return err
	}
	<-comp.Done()
	if err := comp.Err(); err != nil {
		return newError(ErrDispatchFailed, "Dispatch", "%v", err)
	}
	return nil
}

// DispatchAsync submits one dispatch and returns without waiting. The
// fence completes when the device finishes. While a batch is recording,
// DispatchAsync encodes into the batch and returns a nil fence; the
// batch fence from EndBatch covers the work.
//
// A discarded fence makes the dispatch fire-and-forget; execution errors
// then surface on the Context logger.
func (c *Context) DispatchAsync(desc DispatchDesc) (*Fence, error) {
	if err := c.checkOpen("DispatchAsync"); err != nil {
		return nil, err
	}
	cmd, err := c.lower("DispatchAsync", desc)
	if err != nil {
		return nil, err
	}

	if c.rec != nil {
		return nil, c.rec.encode("DispatchAsync", cmd)
	}

	comp, err := c.submitOne("DispatchAsync", desc.Label, cmd, nil)
	if err != nil {
		return nil, err
	}
	c.watchCompletion("DispatchAsync", comp)
	return newFence("DispatchAsync", comp), nil
}

// DispatchAsyncWithEvent submits one dispatch and signals event with
// value when the submission completes, in addition to completing the
// returned fence. While a batch is recording, the dispatch and the signal
// are encoded into the batch and the fence is nil.
func (c *Context) DispatchAsyncWithEvent(desc DispatchDesc, event *SharedEvent, value uint64) (*Fence, error) {
	const op = "DispatchAsyncWithEvent"
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if event == nil || event.id == backend.InvalidID {
		return nil, newError(ErrInvalidArgument, op, "event is nil or destroyed")
	}
	cmd, err := c.lower(op, desc)
	if err != nil {
		return nil, err
	}

	sig := &eventSignal{event: event.id, value: value}

	if c.rec != nil {
		if err := c.rec.encode(op, cmd); err != nil {
			return nil, err
		}
		if err := c.rec.list.SignalEvent(sig.event, sig.value); err != nil {
			return nil, newError(ErrDispatchFailed, op, "%v", err)
		}
		return nil, nil
	}

	comp, err := c.submitOne(op, desc.Label, cmd, sig)
	if err != nil {
		return nil, err
	}
	c.watchCompletion(op, comp)
	return newFence(op, comp), nil
}

// Dispatch1D is a convenience wrapper for 1-D grids: total threads and
// threads per group (0 = auto).
func (c *Context) Dispatch1D(desc DispatchDesc, total, perThreadgroup int) error {
	desc.Grid = [3]int{total, 1, 1}
	desc.Threadgroup = [3]int{perThreadgroup, 1, 1}
	if perThreadgroup == 0 {
		desc.Threadgroup = [3]int{}
	}
	return c.Dispatch(desc)
}

// Dispatch1DAsync is the async variant of Dispatch1D.
func (c *Context) Dispatch1DAsync(desc DispatchDesc, total, perThreadgroup int) (*Fence, error) {
	desc.Grid = [3]int{total, 1, 1}
	desc.Threadgroup = [3]int{perThreadgroup, 1, 1}
	if perThreadgroup == 0 {
		desc.Threadgroup = [3]int{}
	}
	return c.DispatchAsync(desc)
}

type eventSignal struct {
	event backend.EventID
	value uint64
}

// submitOne wraps a single lowered command in its own submission.
func (c *Context) submitOne(op, label string, cmd backend.DispatchCommand, sig *eventSignal) (backend.Completion, error) {
	list, err := c.dev.NewCommandList(label)
	if err != nil {
		return nil, newError(ErrDeviceFailed, op, "%v", err)
	}
	if err := list.Encode(cmd); err != nil {
		return nil, newError(ErrDispatchFailed, op, "%v", err)
	}
	if sig != nil {
		if err := list.SignalEvent(sig.event, sig.value); err != nil {
			return nil, newError(ErrDispatchFailed, op, "%v", err)
		}
	}
	comp, err := list.Submit()
	if err != nil {
		return nil, newError(ErrDispatchFailed, op, "%v", err)
	}
	return comp, nil
}

// watchCompletion logs execution errors of async submissions, so
// fire-and-forget callers still see failures.
func (c *Context) watchCompletion(op string, comp backend.Completion) {
	log := c.log
	go func() {
		<-comp.Done()
		if err := comp.Err(); err != nil {
			log.Warn("async dispatch failed", "op", op, "error", err)
		}
	}()
}
