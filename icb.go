package compute

import "github.com/gogpu/compute/backend"

// IndirectCommandBuffer pre-records dispatches into fixed slots so they
// can be replayed repeatedly without re-validation. Encode runs the full
// encoder validation and stores the lowered command by value; Execute
// replays a prefix of the slots as one submission.
//
// Gated on Capabilities().SupportsIndirectCommandBuffers.
type IndirectCommandBuffer struct {
	ctx   *Context
	slots []*backend.DispatchCommand
	label string
}

// NewIndirectCommandBuffer creates an indirect command buffer with
// maxCommands empty slots.
func (c *Context) NewIndirectCommandBuffer(maxCommands int) (*IndirectCommandBuffer, error) {
	const op = "NewIndirectCommandBuffer"
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if !c.caps.SupportsIndirectCommandBuffers {
		return nil, newError(ErrNotSupported, op, "device %q has no indirect command buffers", c.caps.DeviceName)
	}
	if maxCommands <= 0 {
		return nil, newError(ErrInvalidArgument, op, "maxCommands must be positive, got %d", maxCommands)
	}
	return &IndirectCommandBuffer{
		ctx:   c,
		slots: make([]*backend.DispatchCommand, maxCommands),
	}, nil
}

// Size returns the slot count.
func (icb *IndirectCommandBuffer) Size() int { return len(icb.slots) }

// SetLabel attaches a debug label used for replay submissions.
func (icb *IndirectCommandBuffer) SetLabel(label string) { icb.label = label }

// Encode validates desc and stores the lowered dispatch in slot. The
// descriptor is resolved now: later changes to the caller's DispatchDesc
// or to the kernel's uniform bytes do not affect the recorded command.
func (icb *IndirectCommandBuffer) Encode(slot int, desc DispatchDesc) error {
	const op = "IndirectCommandBuffer.Encode"
	if slot < 0 || slot >= len(icb.slots) {
		return newError(ErrInvalidArgument, op, "slot %d out of range [0,%d)", slot, len(icb.slots))
	}
	cmd, err := icb.ctx.lower(op, desc)
	if err != nil {
		return err
	}
	icb.slots[slot] = &cmd
	return nil
}

// Execute replays slots [0,count) as one submission and returns its
// fence. Every replayed slot must have been encoded; empty slots in the
// prefix are an error before anything is submitted.
func (icb *IndirectCommandBuffer) Execute(count int) (*Fence, error) {
	const op = "IndirectCommandBuffer.Execute"
	if err := icb.ctx.checkOpen(op); err != nil {
		return nil, err
	}
	if count <= 0 || count > len(icb.slots) {
		return nil, newError(ErrInvalidArgument, op, "count %d out of range [1,%d]", count, len(icb.slots))
	}
	for i := 0; i < count; i++ {
		if icb.slots[i] == nil {
			return nil, newError(ErrInvalidArgument, op, "slot %d was never encoded", i)
		}
	}

	list, err := icb.ctx.dev.NewCommandList(icb.label)
	if err != nil {
		return nil, newError(ErrDeviceFailed, op, "%v", err)
	}
	for i := 0; i < count; i++ {
		if err := list.Encode(*icb.slots[i]); err != nil {
			return nil, newError(ErrDispatchFailed, op, "slot %d: %v", i, err)
		}
	}
	comp, err := list.Submit()
	if err != nil {
		return nil, newError(ErrDispatchFailed, op, "%v", err)
	}
	icb.ctx.watchCompletion(op, comp)
	return newFence(op, comp), nil
}

// Reset clears every slot.
func (icb *IndirectCommandBuffer) Reset() {
	for i := range icb.slots {
		icb.slots[i] = nil
	}
}
