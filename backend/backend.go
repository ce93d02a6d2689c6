package backend

import (
	"errors"
	"time"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or cannot open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before the
	// device is opened.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrNotSupported is returned by operations on features the device
	// does not support.
	ErrNotSupported = errors.New("backend: not supported")

	// ErrInvalidHandle is returned when an operation references an unknown
	// or destroyed resource ID.
	ErrInvalidHandle = errors.New("backend: invalid resource handle")

	// ErrPrivateStorage is returned when a direct map operation targets a
	// device-only buffer. Callers use the transfer copy path instead.
	ErrPrivateStorage = errors.New("backend: buffer is device-only")

	// ErrCompile is returned when kernel compilation fails. The compile
	// log accompanies it out of band.
	ErrCompile = errors.New("backend: kernel compilation failed")

	// ErrOutOfRange is returned when an access exceeds a resource's bounds.
	ErrOutOfRange = errors.New("backend: access out of range")
)

// Completion observes one submission. Done is closed when the device has
// finished (or failed) every command in the submission; Err is valid only
// after Done is closed.
type Completion interface {
	Done() <-chan struct{}
	Err() error
}

// CommandList records dispatch commands for a single submission.
//
// A CommandList is single-writer: only the goroutine that created it may
// Encode into it. Submit consumes the list; a submitted list must not be
// used again.
type CommandList interface {
	// Encode appends one resolved dispatch to the list.
	Encode(cmd DispatchCommand) error

	// SignalEvent arranges for the event to be signaled with value when
	// the submission completes. Recorded, not immediate.
	SignalEvent(event EventID, value uint64) error

	// Submit hands the accumulated commands to the device queue in FIFO
	// order relative to other submissions from the same device.
	Submit() (Completion, error)

	// SetLabel attaches a debug label. Best effort, write-only.
	SetLabel(label string)
}

// Device is the vtable every backend implements. All handles returned by a
// Device are meaningful only with that same Device.
//
// Drive a Device from one goroutine at a time; independent Devices may run
// on independent goroutines concurrently.
type Device interface {
	// Name returns the backend identifier (e.g. "cpu", "wgpu").
	Name() string

	// Capabilities returns the feature flags and limits, computed once
	// when the device was opened.
	Capabilities() Capabilities

	// Info answers a device info query, or ErrNotSupported when the query
	// is unavailable for this device.
	Info(q InfoQuery) (InfoValue, error)

	// CreateBuffer creates a buffer, optionally filled with initial data.
	// Initial data is honored for every storage mode including
	// StoragePrivate (this is the only time private content can be set
	// without a transfer copy).
	CreateBuffer(desc BufferDescriptor, initial []byte) (BufferID, error)
	DestroyBuffer(id BufferID)

	// WriteBuffer and ReadBuffer map the buffer directly. They fail with
	// ErrPrivateStorage for StoragePrivate buffers.
	WriteBuffer(id BufferID, offset int, data []byte) error
	ReadBuffer(id BufferID, offset int, dst []byte) error

	// CopyBuffer performs a device-side transfer copy. It works for every
	// storage mode and is ordered after previously submitted work.
	CopyBuffer(src BufferID, srcOffset int, dst BufferID, dstOffset, n int) error

	CreateTexture(desc TextureDescriptor, initial []byte) (TextureID, error)
	DestroyTexture(id TextureID)
	WriteTexture(id TextureID, data []byte) error
	ReadTexture(id TextureID, dst []byte) error

	CreateSampler(desc SamplerDescriptor) (SamplerID, error)
	DestroySampler(id SamplerID)

	// CompileKernel compiles (or loads, when desc.Library is set) a kernel
	// and returns its handle, its limits/reflection info and the compiler
	// log. The log may be non-empty even on success.
	CompileKernel(desc KernelDescriptor) (KernelID, KernelInfo, string, error)
	DestroyKernel(id KernelID)

	// NewCommandList opens an empty recording list on the device queue.
	NewCommandList(label string) (CommandList, error)

	// Shared event counter operations. All return ErrNotSupported when
	// Capabilities().SupportsSharedEvents is false.
	CreateEvent() (EventID, error)
	SignalEvent(id EventID, value uint64) error
	EventValue(id EventID) (uint64, error)
	WaitEvent(id EventID, value uint64, timeout time.Duration) (bool, error)
	DestroyEvent(id EventID)

	// Close releases the device. The caller guarantees no submissions are
	// outstanding.
	Close()
}
