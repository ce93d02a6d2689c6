package compute

import (
	"slices"

	"github.com/gogpu/compute/backend"
)

// ResourceInfo reports the resource counts a compiled kernel expects, as
// reflected by the backend compiler. A count of -1 means the backend
// cannot reflect it and the encoder skips the mismatch check.
type ResourceInfo struct {
	BufferCount  int
	TextureCount int
	SamplerCount int

	// ThreadgroupMemory is the kernel's static threadgroup memory use in
	// bytes.
	ThreadgroupMemory int
}

// Kernel is a compiled compute function plus its persistent uniform
// bytes. Uniforms set with SetBytes stay attached across dispatches until
// ClearBytes; per-dispatch buffer bindings at the same index shadow them
// for that dispatch only.
type Kernel struct {
	ctx   *Context
	id    backend.KernelID
	info  backend.KernelInfo
	entry string
	label string

	// creation inputs, kept for binary archives.
	source  string
	library []byte

	// uniforms maps buffer index to owned byte copies.
	uniforms map[uint32][]byte
}

// NewKernelFromSource compiles kernel source and returns the kernel for
// the named entry point. On failure the returned *Error carries the
// compiler log (Log method).
func (c *Context) NewKernelFromSource(source, entry string) (*Kernel, error) {
	return c.newKernel("NewKernelFromSource", backend.KernelDescriptor{
		Source: source,
		Entry:  entry,
	})
}

// NewKernelFromLibrary loads a kernel from a precompiled library blob.
func (c *Context) NewKernelFromLibrary(library []byte, entry string) (*Kernel, error) {
	return c.newKernel("NewKernelFromLibrary", backend.KernelDescriptor{
		Library: library,
		Entry:   entry,
	})
}

func (c *Context) newKernel(op string, desc backend.KernelDescriptor) (*Kernel, error) {
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if desc.Entry == "" {
		return nil, newError(ErrInvalidArgument, op, "entry point is required")
	}

	id, info, log, err := c.dev.CompileKernel(desc)
	if err != nil {
		c.log.Warn("kernel compilation failed", "entry", desc.Entry, "error", err)
		e := newCompileError(op, "entry "+desc.Entry, log)
		if log == "" {
			e.msg = "entry " + desc.Entry + ": " + err.Error()
		}
		return nil, e
	}
	if log != "" {
		c.log.Info("kernel compiled with diagnostics", "entry", desc.Entry, "log", log)
	} else {
		c.log.Info("kernel compiled", "entry", desc.Entry)
	}

	return &Kernel{
		ctx:      c,
		id:       id,
		info:     info,
		entry:    desc.Entry,
		source:   desc.Source,
		library:  desc.Library,
		uniforms: make(map[uint32][]byte),
	}, nil
}

// Destroy releases the kernel. The caller guarantees no in-flight
// dispatch still uses it.
func (k *Kernel) Destroy() {
	if k.id == backend.InvalidID {
		return
	}
	k.ctx.dev.DestroyKernel(k.id)
	k.id = backend.InvalidID
	k.uniforms = nil
}

// Entry returns the kernel entry point name.
func (k *Kernel) Entry() string { return k.entry }

// SetLabel attaches a debug label.
func (k *Kernel) SetLabel(label string) { k.label = label }

// MaxThreadsPerThreadgroup returns the largest total threadgroup size the
// kernel may be dispatched with.
func (k *Kernel) MaxThreadsPerThreadgroup() int { return k.info.MaxThreadsPerThreadgroup }

// ThreadExecutionWidth returns the SIMD width the kernel executes at.
func (k *Kernel) ThreadExecutionWidth() int { return k.info.ThreadExecutionWidth }

// RequiredThreadgroupSize returns a fixed threadgroup size the kernel
// declares, or all zeros when it imposes none. A non-zero required size
// overrides auto sizing and conflicts with differing explicit sizes.
func (k *Kernel) RequiredThreadgroupSize() [3]int { return k.info.RequiredThreadgroup }

// ResourceInfo returns the kernel's reflected resource counts.
func (k *Kernel) ResourceInfo() ResourceInfo {
	return ResourceInfo{
		BufferCount:       k.info.BufferCount,
		TextureCount:      k.info.TextureCount,
		SamplerCount:      k.info.SamplerCount,
		ThreadgroupMemory: k.info.ThreadgroupMemory,
	}
}

// SetBytes attaches uniform bytes at a buffer index. The data is copied;
// the caller may reuse its slice. The bytes persist across dispatches
// until ClearBytes or a replacing SetBytes at the same index. A buffer
// bound at the same index in a DispatchDesc shadows the uniform for that
// dispatch only; the uniform is not evicted.
func (k *Kernel) SetBytes(index uint32, data []byte) error {
	if k.id == backend.InvalidID {
		return newError(ErrInvalidArgument, "SetBytes", "kernel is destroyed")
	}
	if len(data) == 0 {
		return newError(ErrInvalidArgument, "SetBytes", "data must not be empty")
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	k.uniforms[index] = owned
	return nil
}

// ClearBytes removes every uniform byte binding from the kernel. This is
// the only way uniforms are removed.
func (k *Kernel) ClearBytes() {
	for idx := range k.uniforms {
		delete(k.uniforms, idx)
	}
}

// snapshotUniforms captures the current uniform set for one lowered
// dispatch, sorted by index for deterministic encoding. The byte slices
// are shared with the kernel's owned copies; SetBytes replaces rather
// than mutates, so a snapshot stays stable after later updates.
func (k *Kernel) snapshotUniforms() []backend.UniformBinding {
	if len(k.uniforms) == 0 {
		return nil
	}
	out := make([]backend.UniformBinding, 0, len(k.uniforms))
	for idx, data := range k.uniforms {
		out = append(out, backend.UniformBinding{Index: idx, Data: data})
	}
	slices.SortFunc(out, func(a, b backend.UniformBinding) int {
		return int(a.Index) - int(b.Index)
	})
	return out
}
