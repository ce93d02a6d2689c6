package cpu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/backend"
)

// Device limits reported by the reference backend. Chosen to match a
// mid-range GPU so auto threadgroup sizing behaves the same on both
// backends.
const (
	maxThreadsPerThreadgroup = 1024
	threadExecutionWidth     = 32
	maxThreadgroupMemory     = 32 * 1024
	maxBufferLength          = 1 << 30
	recommendedWorkingSet    = 256 << 20
)

// init registers the cpu backend on package import.
func init() {
	backend.Register("cpu", func() (backend.Device, error) {
		return NewDevice(), nil
	})
}

// Device is the Pure Go backend device. One queue goroutine executes
// submissions in FIFO order; dispatch execution fans out one goroutine per
// threadgroup.
type Device struct {
	mu     sync.RWMutex
	nextID atomic.Uint64

	buffers  map[backend.BufferID]*buffer
	textures map[backend.TextureID]*texture
	samplers map[backend.SamplerID]*sampler
	kernels  map[backend.KernelID]*kernel
	events   map[backend.EventID]*event

	queue chan *submission
	quit  chan struct{}
	wg    sync.WaitGroup

	closed bool
}

type buffer struct {
	data    []byte
	storage backend.StorageMode
	label   string
}

type texture struct {
	desc backend.TextureDescriptor
	data []byte
}

type sampler struct {
	desc backend.SamplerDescriptor
}

type kernel struct {
	entry string
	spec  KernelSpec
	label string
}

// event is a monotonically increasing counter. Signal publishes a new value
// by closing the current change channel so waiters wake without polling.
type event struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

// NewDevice opens a new cpu device.
func NewDevice() *Device {
	d := &Device{
		buffers:  make(map[backend.BufferID]*buffer),
		textures: make(map[backend.TextureID]*texture),
		samplers: make(map[backend.SamplerID]*sampler),
		kernels:  make(map[backend.KernelID]*kernel),
		events:   make(map[backend.EventID]*event),
		queue:    make(chan *submission, 64),
		quit:     make(chan struct{}),
	}
	d.nextID.Store(1)

	d.wg.Add(1)
	go d.run()

	return d
}

// newID generates a unique resource ID.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns the backend identifier.
func (d *Device) Name() string { return "cpu" }

// Capabilities returns the full feature surface: every capability-gated
// feature of the library is implementable in pure Go.
func (d *Device) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		SupportsGPUOnlyBuffers:         true,
		SupportsSharedEvents:           true,
		SupportsBinaryArchives:         true,
		SupportsHeaps:                  true,
		SupportsIndirectCommandBuffers: true,
		SupportsFunctionTables:         true,
		SupportsNonUniformThreadgroups: true,

		MaxThreadgroupMemory:         maxThreadgroupMemory,
		MaxThreadsPerThreadgroup:     maxThreadsPerThreadgroup,
		ThreadExecutionWidth:         threadExecutionWidth,
		MaxBufferLength:              maxBufferLength,
		RecommendedMaxWorkingSetSize: recommendedWorkingSet,

		DeviceName: deviceName(),
	}
}

func deviceName() string {
	return fmt.Sprintf("Pure Go CPU (%d hardware threads)", runtime.NumCPU())
}

// Info answers device info queries.
func (d *Device) Info(q backend.InfoQuery) (backend.InfoValue, error) {
	switch q {
	case backend.InfoName:
		return backend.InfoValue{Str: deviceName()}, nil
	case backend.InfoMaxThreadsPerThreadgroup:
		return backend.InfoValue{Uint: maxThreadsPerThreadgroup}, nil
	case backend.InfoThreadExecutionWidth:
		return backend.InfoValue{Uint: threadExecutionWidth}, nil
	case backend.InfoMaxBufferLength:
		return backend.InfoValue{Uint: maxBufferLength}, nil
	case backend.InfoSupportsGPUOnlyBuffers:
		return backend.InfoValue{Bool: true}, nil
	case backend.InfoMaxComputeUnits:
		return backend.InfoValue{Uint: uint64(runtime.NumCPU())}, nil
	default:
		return backend.InfoValue{}, backend.ErrNotSupported
	}
}

// === Buffers ===

// CreateBuffer creates a buffer. Initial data is copied in for every
// storage mode; this is the only direct write a private buffer accepts.
func (d *Device) CreateBuffer(desc backend.BufferDescriptor, initial []byte) (backend.BufferID, error) {
	if desc.Size <= 0 {
		return backend.InvalidID, fmt.Errorf("cpu: buffer size must be positive, got %d", desc.Size)
	}
	if desc.Size > maxBufferLength {
		return backend.InvalidID, fmt.Errorf("cpu: buffer size %d exceeds device limit", desc.Size)
	}
	if len(initial) > desc.Size {
		return backend.InvalidID, backend.ErrOutOfRange
	}

	buf := &buffer{
		data:    make([]byte, desc.Size),
		storage: desc.Storage,
		label:   desc.Label,
	}
	copy(buf.data, initial)

	id := backend.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = buf
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id backend.BufferID) {
	d.mu.Lock()
	delete(d.buffers, id)
	d.mu.Unlock()
}

// WriteBuffer maps the buffer and writes directly. Private buffers refuse
// the direct map; callers go through CopyBuffer instead.
func (d *Device) WriteBuffer(id backend.BufferID, offset int, data []byte) error {
	d.mu.RLock()
	buf, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	if buf.storage == backend.StoragePrivate {
		return backend.ErrPrivateStorage
	}
	if offset < 0 || offset+len(data) > len(buf.data) {
		return backend.ErrOutOfRange
	}
	copy(buf.data[offset:], data)
	return nil
}

// ReadBuffer maps the buffer and reads directly. Private buffers refuse
// the direct map rather than returning stale or zeroed data.
func (d *Device) ReadBuffer(id backend.BufferID, offset int, dst []byte) error {
	d.mu.RLock()
	buf, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	if buf.storage == backend.StoragePrivate {
		return backend.ErrPrivateStorage
	}
	if offset < 0 || offset+len(dst) > len(buf.data) {
		return backend.ErrOutOfRange
	}
	copy(dst, buf.data[offset:])
	return nil
}

// CopyBuffer performs a transfer copy through the device queue so it is
// ordered after previously submitted dispatches. Works for every storage
// mode; this is the blit path private buffers rely on.
func (d *Device) CopyBuffer(src backend.BufferID, srcOffset int, dst backend.BufferID, dstOffset, n int) error {
	sub := newSubmission(nil)
	sub.ops = append(sub.ops, func() error {
		d.mu.RLock()
		sb, sok := d.buffers[src]
		db, dok := d.buffers[dst]
		d.mu.RUnlock()
		if !sok || !dok {
			return backend.ErrInvalidHandle
		}
		if srcOffset < 0 || dstOffset < 0 || n < 0 ||
			srcOffset+n > len(sb.data) || dstOffset+n > len(db.data) {
			return backend.ErrOutOfRange
		}
		copy(db.data[dstOffset:dstOffset+n], sb.data[srcOffset:srcOffset+n])
		return nil
	})

	if err := d.enqueue(sub); err != nil {
		return err
	}
	<-sub.Done()
	return sub.Err()
}

// === Textures ===

// CreateTexture creates a texture, optionally filled with initial texels.
func (d *Device) CreateTexture(desc backend.TextureDescriptor, initial []byte) (backend.TextureID, error) {
	if desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0 {
		return backend.InvalidID, fmt.Errorf("cpu: texture extent must be positive, got %dx%dx%d",
			desc.Width, desc.Height, desc.Depth)
	}
	bpt := desc.Format.BytesPerTexel()
	if bpt == 0 {
		return backend.InvalidID, fmt.Errorf("cpu: unknown texture format %d", desc.Format)
	}
	size := desc.Width * desc.Height * desc.Depth * bpt
	if len(initial) > size {
		return backend.InvalidID, backend.ErrOutOfRange
	}

	tex := &texture{desc: desc, data: make([]byte, size)}
	copy(tex.data, initial)

	id := backend.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = tex
	d.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id backend.TextureID) {
	d.mu.Lock()
	delete(d.textures, id)
	d.mu.Unlock()
}

// WriteTexture replaces the texture content with raw texels.
func (d *Device) WriteTexture(id backend.TextureID, data []byte) error {
	d.mu.RLock()
	tex, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	if len(data) > len(tex.data) {
		return backend.ErrOutOfRange
	}
	copy(tex.data, data)
	return nil
}

// ReadTexture copies the raw texel content into dst.
func (d *Device) ReadTexture(id backend.TextureID, dst []byte) error {
	d.mu.RLock()
	tex, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	if len(dst) > len(tex.data) {
		return backend.ErrOutOfRange
	}
	copy(dst, tex.data)
	return nil
}

// === Samplers ===

// CreateSampler creates a sampler state.
func (d *Device) CreateSampler(desc backend.SamplerDescriptor) (backend.SamplerID, error) {
	id := backend.SamplerID(d.newID())
	d.mu.Lock()
	d.samplers[id] = &sampler{desc: desc}
	d.mu.Unlock()
	return id, nil
}

// DestroySampler releases a sampler.
func (d *Device) DestroySampler(id backend.SamplerID) {
	d.mu.Lock()
	delete(d.samplers, id)
	d.mu.Unlock()
}

// === Kernels ===

// CompileKernel resolves the entry point against the kernel registry.
// Library blobs are accepted and treated the same way: the entry point is
// what identifies the kernel body on this backend.
func (d *Device) CompileKernel(desc backend.KernelDescriptor) (backend.KernelID, backend.KernelInfo, string, error) {
	if desc.Entry == "" {
		return backend.InvalidID, backend.KernelInfo{}, "", fmt.Errorf("cpu: kernel entry point is required")
	}

	spec, ok := lookupKernel(desc.Entry)
	if !ok {
		log := fmt.Sprintf("entry point %q not found in cpu kernel registry (registered: use cpu.RegisterKernel)", desc.Entry)
		return backend.InvalidID, backend.KernelInfo{}, log, backend.ErrCompile
	}

	k := &kernel{entry: desc.Entry, spec: spec, label: desc.Label}

	id := backend.KernelID(d.newID())
	d.mu.Lock()
	d.kernels[id] = k
	d.mu.Unlock()

	return id, backend.KernelInfo{
		MaxThreadsPerThreadgroup: maxThreadsPerThreadgroup,
		ThreadExecutionWidth:     threadExecutionWidth,
		RequiredThreadgroup:      spec.RequiredThreadgroup,
		BufferCount:              spec.BufferCount,
		TextureCount:             spec.TextureCount,
		SamplerCount:             spec.SamplerCount,
		ThreadgroupMemory:        spec.ThreadgroupMemory,
	}, "", nil
}

// DestroyKernel releases a kernel.
func (d *Device) DestroyKernel(id backend.KernelID) {
	d.mu.Lock()
	delete(d.kernels, id)
	d.mu.Unlock()
}

// === Shared events ===

// CreateEvent creates a shared event counter starting at zero.
func (d *Device) CreateEvent() (backend.EventID, error) {
	ev := &event{changed: make(chan struct{})}
	id := backend.EventID(d.newID())
	d.mu.Lock()
	d.events[id] = ev
	d.mu.Unlock()
	return id, nil
}

// SignalEvent raises the event to value. Values never decrease.
func (d *Device) SignalEvent(id backend.EventID, value uint64) error {
	d.mu.RLock()
	ev, ok := d.events[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	ev.signal(value)
	return nil
}

// EventValue returns the current counter value.
func (d *Device) EventValue(id backend.EventID) (uint64, error) {
	d.mu.RLock()
	ev, ok := d.events[id]
	d.mu.RUnlock()
	if !ok {
		return 0, backend.ErrInvalidHandle
	}
	ev.mu.Lock()
	v := ev.value
	ev.mu.Unlock()
	return v, nil
}

// WaitEvent blocks until the event reaches value or the timeout elapses.
// A timeout <= 0 waits forever.
func (d *Device) WaitEvent(id backend.EventID, value uint64, timeout time.Duration) (bool, error) {
	d.mu.RLock()
	ev, ok := d.events[id]
	d.mu.RUnlock()
	if !ok {
		return false, backend.ErrInvalidHandle
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		ev.mu.Lock()
		v, ch := ev.value, ev.changed
		ev.mu.Unlock()
		if v >= value {
			return true, nil
		}
		select {
		case <-ch:
		case <-deadline:
			return false, nil
		}
	}
}

// DestroyEvent releases an event. Pending waiters keep their change
// channel and time out normally.
func (d *Device) DestroyEvent(id backend.EventID) {
	d.mu.Lock()
	delete(d.events, id)
	d.mu.Unlock()
}

func (ev *event) signal(value uint64) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if value > ev.value {
		ev.value = value
		close(ev.changed)
		ev.changed = make(chan struct{})
	}
}

// Close stops the queue goroutine and drops all resources. The caller
// guarantees no submissions are outstanding.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()

	d.mu.Lock()
	d.buffers = make(map[backend.BufferID]*buffer)
	d.textures = make(map[backend.TextureID]*texture)
	d.samplers = make(map[backend.SamplerID]*sampler)
	d.kernels = make(map[backend.KernelID]*kernel)
	d.events = make(map[backend.EventID]*event)
	d.mu.Unlock()
}
