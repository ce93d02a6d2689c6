package compute

import (
	"slices"

	"github.com/gogpu/compute/backend"
)

// heapAlignment is the placement alignment for heap sub-allocations,
// matching the strictest storage-buffer offset alignment across backends.
const heapAlignment = 256

// Heap is a fixed-capacity sub-allocator over one backing device buffer.
// NewBuffer carves aligned ranges out of it first-fit; destroying a
// sub-buffer returns its range to the free list, where it merges with
// adjacent free ranges. Sub-buffers bind and map like ordinary buffers.
//
// Gated on Capabilities().SupportsHeaps.
type Heap struct {
	ctx      *Context
	id       backend.BufferID
	capacity int
	used     int
	usage    BufferUsage

	// free ranges, sorted by offset, non-adjacent.
	free []span
}

type span struct {
	off int
	len int
}

// NewHeap creates a heap with the given byte capacity in shared memory.
func (c *Context) NewHeap(capacity int) (*Heap, error) {
	return c.NewHeapEx(capacity, UsageDefault)
}

// NewHeapEx creates a heap with an explicit usage hint for its backing
// buffer. Every sub-allocation inherits the usage.
func (c *Context) NewHeapEx(capacity int, usage BufferUsage) (*Heap, error) {
	const op = "NewHeapEx"
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if !c.caps.SupportsHeaps {
		return nil, newError(ErrNotSupported, op, "device %q has no heaps", c.caps.DeviceName)
	}
	if capacity <= 0 {
		return nil, newError(ErrInvalidArgument, op, "capacity must be positive, got %d", capacity)
	}
	capacity = align(capacity, heapAlignment)
	if max := c.caps.MaxBufferLength; max > 0 && capacity > max {
		return nil, newError(ErrInvalidArgument, op, "capacity %d exceeds device limit %d", capacity, max)
	}
	if usage == UsageGPUOnly && !c.caps.SupportsGPUOnlyBuffers {
		return nil, newError(ErrNotSupported, op, "device %q has no GPU-only buffers", c.caps.DeviceName)
	}

	id, err := c.dev.CreateBuffer(backend.BufferDescriptor{
		Label:   "heap",
		Size:    capacity,
		Storage: usage.storageMode(),
	}, nil)
	if err != nil {
		return nil, newError(ErrDeviceFailed, op, "%v", err)
	}

	c.log.Debug("heap created", "capacity", capacity, "usage", usage)
	return &Heap{
		ctx:      c,
		id:       id,
		capacity: capacity,
		usage:    usage,
		free:     []span{{off: 0, len: capacity}},
	}, nil
}

// NewBuffer sub-allocates a buffer from the heap. The placement is
// first-fit over the free list with 256-byte alignment. Exhaustion is an
// ErrInvalidArgument; destroy sub-buffers to return space.
func (h *Heap) NewBuffer(size int, flags BufferFlags) (*Buffer, error) {
	const op = "Heap.NewBuffer"
	if h.id == backend.InvalidID {
		return nil, newError(ErrInvalidArgument, op, "heap is destroyed")
	}
	if size <= 0 {
		return nil, newError(ErrInvalidArgument, op, "size must be positive, got %d", size)
	}
	padded := align(size, heapAlignment)

	for i, s := range h.free {
		if s.len < padded {
			continue
		}
		off := s.off
		if s.len == padded {
			h.free = slices.Delete(h.free, i, i+1)
		} else {
			h.free[i] = span{off: s.off + padded, len: s.len - padded}
		}
		h.used += padded
		return &Buffer{
			ctx:   h.ctx,
			id:    h.id,
			size:  size,
			flags: flags,
			usage: h.usage,
			base:  off,
			heap:  h,
		}, nil
	}

	return nil, newError(ErrInvalidArgument, op, "heap exhausted: %d bytes requested, %d of %d free (fragmented)",
		padded, h.capacity-h.used, h.capacity)
}

// release returns a sub-allocated range to the free list, merging with
// adjacent free ranges.
func (h *Heap) release(off, size int) {
	if h.id == backend.InvalidID {
		return
	}
	padded := align(size, heapAlignment)
	h.used -= padded

	i, _ := slices.BinarySearchFunc(h.free, off, func(s span, off int) int {
		return s.off - off
	})
	h.free = slices.Insert(h.free, i, span{off: off, len: padded})

	// Merge with the next range, then the previous one.
	if i+1 < len(h.free) && h.free[i].off+h.free[i].len == h.free[i+1].off {
		h.free[i].len += h.free[i+1].len
		h.free = slices.Delete(h.free, i+1, i+2)
	}
	if i > 0 && h.free[i-1].off+h.free[i-1].len == h.free[i].off {
		h.free[i-1].len += h.free[i].len
		h.free = slices.Delete(h.free, i, i+1)
	}
}

// Usage reports the allocated and total byte counts. Allocated counts
// alignment padding.
func (h *Heap) Usage() (used, capacity int) {
	return h.used, h.capacity
}

// Destroy releases the backing buffer. Outstanding sub-buffers become
// invalid; the caller guarantees none are still bound to in-flight work.
func (h *Heap) Destroy() {
	if h.id == backend.InvalidID {
		return
	}
	h.ctx.dev.DestroyBuffer(h.id)
	h.id = backend.InvalidID
	h.free = nil
}

// align rounds n up to the next multiple of a (a is a power of two).
func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
