package compute

import (
	"fmt"

	"github.com/gogpu/compute/backend"
)

// BufferFlags declares how kernels access a buffer.
type BufferFlags uint32

const (
	// BufferRead marks the buffer as kernel-readable.
	BufferRead BufferFlags = 1 << iota

	// BufferWrite marks the buffer as kernel-writable.
	BufferWrite
)

// BufferReadWrite marks the buffer as both readable and writable.
const BufferReadWrite = BufferRead | BufferWrite

// BufferUsage hints where the buffer lives and which direction the host
// moves data.
type BufferUsage uint32

const (
	// UsageDefault is shared CPU/GPU memory, directly mappable.
	UsageDefault BufferUsage = iota

	// UsageGPUOnly is device-private memory. Content can be set at
	// creation; afterwards only UploadEx/DownloadEx (staged transfer
	// copies) touch it. Gated on SupportsGPUOnlyBuffers.
	UsageGPUOnly

	// UsageCPUToGPU is shared memory optimized for host writes.
	UsageCPUToGPU

	// UsageGPUToCPU is shared memory optimized for host reads.
	UsageGPUToCPU
)

func (u BufferUsage) storageMode() backend.StorageMode {
	switch u {
	case UsageGPUOnly:
		return backend.StoragePrivate
	case UsageCPUToGPU:
		return backend.StorageCPUToGPU
	case UsageGPUToCPU:
		return backend.StorageGPUToCPU
	default:
		return backend.StorageShared
	}
}

// Buffer is a device buffer created from a Context.
type Buffer struct {
	ctx   *Context
	id    backend.BufferID
	size  int
	flags BufferFlags
	usage BufferUsage
	label string

	// Heap sub-allocations share the heap's backing buffer: base is the
	// byte offset of this buffer within it, and heap owns the range.
	base int
	heap *Heap
}

// NewBuffer creates a shared-memory buffer. initial may be nil (the
// buffer starts zeroed) or up to size bytes of content.
func (c *Context) NewBuffer(size int, flags BufferFlags, initial []byte) (*Buffer, error) {
	return c.NewBufferEx(size, flags, UsageDefault, initial)
}

// NewBufferEx creates a buffer with an explicit usage hint. For
// UsageGPUOnly this is the only moment content can be set without a
// staged transfer copy.
func (c *Context) NewBufferEx(size int, flags BufferFlags, usage BufferUsage, initial []byte) (*Buffer, error) {
	if err := c.checkOpen("NewBufferEx"); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, newError(ErrInvalidArgument, "NewBufferEx", "size must be positive, got %d", size)
	}
	if len(initial) > size {
		return nil, newError(ErrInvalidArgument, "NewBufferEx", "initial data (%d bytes) exceeds size %d", len(initial), size)
	}
	if usage == UsageGPUOnly && !c.caps.SupportsGPUOnlyBuffers {
		return nil, newError(ErrNotSupported, "NewBufferEx", "device %q has no GPU-only buffers", c.caps.DeviceName)
	}
	if max := c.caps.MaxBufferLength; max > 0 && size > max {
		return nil, newError(ErrInvalidArgument, "NewBufferEx", "size %d exceeds device limit %d", size, max)
	}

	id, err := c.dev.CreateBuffer(backend.BufferDescriptor{
		Size:    size,
		Storage: usage.storageMode(),
	}, initial)
	if err != nil {
		return nil, newError(ErrDeviceFailed, "NewBufferEx", "%v", err)
	}

	c.log.Debug("buffer created", "size", size, "usage", usage)
	return &Buffer{ctx: c, id: id, size: size, flags: flags, usage: usage}, nil
}

// Destroy releases the buffer. The caller guarantees no in-flight
// dispatch still binds it. For heap sub-allocations the range returns to
// the heap's free list instead of releasing device memory.
func (b *Buffer) Destroy() {
	if b.id == backend.InvalidID {
		return
	}
	if b.heap != nil {
		b.heap.release(b.base, b.size)
	} else {
		b.ctx.dev.DestroyBuffer(b.id)
	}
	b.id = backend.InvalidID
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int { return b.size }

// Flags returns the access flags the buffer was created with.
func (b *Buffer) Flags() BufferFlags { return b.flags }

// Usage returns the usage hint the buffer was created with.
func (b *Buffer) Usage() BufferUsage { return b.usage }

// SetLabel attaches a debug label.
func (b *Buffer) SetLabel(label string) { b.label = label }

func (b *Buffer) checkRange(op string, offset, n int) error {
	if b.id == backend.InvalidID {
		return newError(ErrInvalidArgument, op, "buffer is destroyed")
	}
	if offset < 0 || n < 0 || offset+n > b.size {
		return newError(ErrInvalidArgument, op, "range [%d,%d) exceeds buffer size %d", offset, offset+n, b.size)
	}
	return nil
}

// Upload writes data into the buffer at offset via a direct map. Fails
// with ErrInvalidArgument on GPU-only buffers; use UploadEx for those.
func (b *Buffer) Upload(data []byte, offset int) error {
	if err := b.checkRange("Upload", offset, len(data)); err != nil {
		return err
	}
	if b.usage == UsageGPUOnly {
		return newError(ErrInvalidArgument, "Upload", "buffer is GPU-only; use UploadEx")
	}
	if err := b.ctx.dev.WriteBuffer(b.id, b.base+offset, data); err != nil {
		return newError(ErrDeviceFailed, "Upload", "%v", err)
	}
	return nil
}

// Download reads len(dst) bytes from the buffer at offset via a direct
// map. Fails with ErrInvalidArgument on GPU-only buffers; use DownloadEx
// for those.
func (b *Buffer) Download(dst []byte, offset int) error {
	if err := b.checkRange("Download", offset, len(dst)); err != nil {
		return err
	}
	if b.usage == UsageGPUOnly {
		return newError(ErrInvalidArgument, "Download", "buffer is GPU-only; use DownloadEx")
	}
	if err := b.ctx.dev.ReadBuffer(b.id, b.base+offset, dst); err != nil {
		return newError(ErrDeviceFailed, "Download", "%v", err)
	}
	return nil
}

// UploadEx writes data into the buffer at offset through a shared staging
// buffer and a device-side transfer copy. Works for every usage
// including GPU-only, ordered after previously submitted work.
func (b *Buffer) UploadEx(data []byte, offset int) error {
	if err := b.checkRange("UploadEx", offset, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if b.usage != UsageGPUOnly {
		// Direct map is cheaper when the buffer allows it.
		return b.Upload(data, offset)
	}

	staging, err := b.ctx.dev.CreateBuffer(backend.BufferDescriptor{
		Label:   "staging-upload",
		Size:    len(data),
		Storage: backend.StorageCPUToGPU,
	}, data)
	if err != nil {
		return newError(ErrDeviceFailed, "UploadEx", "staging: %v", err)
	}
	defer b.ctx.dev.DestroyBuffer(staging)

	if err := b.ctx.dev.CopyBuffer(staging, 0, b.id, b.base+offset, len(data)); err != nil {
		return newError(ErrDeviceFailed, "UploadEx", "%v", err)
	}
	return nil
}

// DownloadEx reads len(dst) bytes from the buffer at offset through a
// device-side transfer copy into a shared staging buffer. Works for every
// usage including GPU-only, ordered after previously submitted work.
func (b *Buffer) DownloadEx(dst []byte, offset int) error {
	if err := b.checkRange("DownloadEx", offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if b.usage != UsageGPUOnly {
		return b.Download(dst, offset)
	}

	staging, err := b.ctx.dev.CreateBuffer(backend.BufferDescriptor{
		Label:   "staging-download",
		Size:    len(dst),
		Storage: backend.StorageGPUToCPU,
	}, nil)
	if err != nil {
		return newError(ErrDeviceFailed, "DownloadEx", "staging: %v", err)
	}
	defer b.ctx.dev.DestroyBuffer(staging)

	if err := b.ctx.dev.CopyBuffer(b.id, b.base+offset, staging, 0, len(dst)); err != nil {
		return newError(ErrDeviceFailed, "DownloadEx", "%v", err)
	}
	if err := b.ctx.dev.ReadBuffer(staging, 0, dst); err != nil {
		return newError(ErrDeviceFailed, "DownloadEx", "%v", err)
	}
	return nil
}

// String implements fmt.Stringer for log lines.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%d bytes, usage=%d)", b.size, b.usage)
}
