package compute

import "github.com/gogpu/compute/backend"

// FunctionTable is a fixed-size table of kernels addressable by index.
// The first kernel set binds the table's pipeline shape; later entries
// must be pipeline-compatible with it (same thread budget and execution
// width), matching how visible function tables attach to one pipeline.
//
// Gated on Capabilities().SupportsFunctionTables.
type FunctionTable struct {
	ctx     *Context
	entries []*Kernel

	// anchor is the first kernel set; it fixes compatibility.
	anchor *Kernel
}

// NewFunctionTable creates an empty function table with size slots.
func (c *Context) NewFunctionTable(size int) (*FunctionTable, error) {
	const op = "NewFunctionTable"
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if !c.caps.SupportsFunctionTables {
		return nil, newError(ErrNotSupported, op, "device %q has no function tables", c.caps.DeviceName)
	}
	if size <= 0 {
		return nil, newError(ErrInvalidArgument, op, "size must be positive, got %d", size)
	}
	return &FunctionTable{ctx: c, entries: make([]*Kernel, size)}, nil
}

// Size returns the slot count.
func (t *FunctionTable) Size() int { return len(t.entries) }

// Set places a kernel at index. The first kernel set becomes the table's
// compatibility anchor; subsequent kernels must match its thread budget
// and execution width or Set fails with ErrInvalidArgument.
func (t *FunctionTable) Set(index int, k *Kernel) error {
	const op = "FunctionTable.Set"
	if index < 0 || index >= len(t.entries) {
		return newError(ErrInvalidArgument, op, "index %d out of range [0,%d)", index, len(t.entries))
	}
	if k == nil || k.id == backend.InvalidID {
		return newError(ErrInvalidArgument, op, "kernel is nil or destroyed")
	}
	if k.ctx != t.ctx {
		return newError(ErrInvalidArgument, op, "kernel belongs to a different context")
	}

	if t.anchor == nil {
		t.anchor = k
	} else if k.info.MaxThreadsPerThreadgroup != t.anchor.info.MaxThreadsPerThreadgroup ||
		k.info.ThreadExecutionWidth != t.anchor.info.ThreadExecutionWidth {
		return newError(ErrInvalidArgument, op, "kernel %q is not pipeline-compatible with anchor %q",
			k.entry, t.anchor.entry)
	}

	t.entries[index] = k
	return nil
}

// Get returns the kernel at index, or nil for an empty slot.
func (t *FunctionTable) Get(index int) *Kernel {
	if index < 0 || index >= len(t.entries) {
		return nil
	}
	return t.entries[index]
}

// Dispatch runs the kernel at index with the given descriptor geometry
// and bindings, ignoring desc.Kernel. Empty slots are an error.
func (t *FunctionTable) Dispatch(index int, desc DispatchDesc) error {
	k := t.Get(index)
	if k == nil {
		return newError(ErrInvalidArgument, "FunctionTable.Dispatch", "slot %d is empty", index)
	}
	desc.Kernel = k
	return t.ctx.Dispatch(desc)
}
