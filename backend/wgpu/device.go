package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	"github.com/gogpu/compute/backend"
)

// ErrNoGPU is returned by the registry factory when Configure was never
// called: the backend has no device of its own to open.
var ErrNoGPU = errors.New("wgpu: no GPU device configured")

// threadExecutionWidth is the assumed SIMD width. The hal does not expose
// subgroup sizes; 32 matches the common case on desktop GPUs.
const threadExecutionWidth = 32

// fenceTimeout bounds every fence wait so a hung driver cannot deadlock
// the queue goroutine.
const fenceTimeout = 60 * time.Second

// AdapterPreferences describes the adapter the host application should
// request when opening the shared hal device, expressed in gputypes
// descriptors. It is advice for the injection site; Configure accepts
// whatever device the host settled on.
type AdapterPreferences struct {
	Instance gputypes.InstanceDescriptor
	Adapter  gputypes.RequestAdapterOptions
}

// DefaultAdapterPreferences returns the adapter request this backend is
// tuned for: a high-performance adapter with default instance settings.
func DefaultAdapterPreferences() AdapterPreferences {
	return AdapterPreferences{
		Instance: gputypes.InstanceDescriptor{},
		Adapter: gputypes.RequestAdapterOptions{
			PowerPreference: gputypes.PowerPreferenceHighPerformance,
		},
	}
}

var (
	configMu   sync.Mutex
	configured *config
)

type config struct {
	device hal.Device
	queue  hal.Queue
	limits types.Limits
	name   string
}

// Configure injects the hal device and queue the backend drives. Passing
// nil limits falls back to types.DefaultLimits(). The device name is used
// in Capabilities; pass "" for a generic one. Configure may be called
// again to swap devices while no compute Context is open.
func Configure(device hal.Device, queue hal.Queue, limits *types.Limits) {
	ConfigureNamed(device, queue, limits, "")
}

// ConfigureNamed is Configure with an explicit device name.
func ConfigureNamed(device hal.Device, queue hal.Queue, limits *types.Limits, name string) {
	lim := types.DefaultLimits()
	if limits != nil {
		lim = *limits
	}
	if name == "" {
		name = "wgpu GPU"
	}
	configMu.Lock()
	configured = &config{device: device, queue: queue, limits: lim, name: name}
	configMu.Unlock()
}

func init() {
	backend.Register("wgpu", func() (backend.Device, error) {
		configMu.Lock()
		cfg := configured
		configMu.Unlock()
		if cfg == nil {
			return nil, ErrNoGPU
		}
		return newDevice(cfg), nil
	})
}

// Device drives one injected hal.Device. One queue goroutine retires
// submissions in FIFO order by waiting on their fences.
type Device struct {
	dev    hal.Device
	queue  hal.Queue
	limits types.Limits
	name   string

	mu     sync.RWMutex
	nextID atomic.Uint64

	buffers  map[backend.BufferID]*buffer
	textures map[backend.TextureID]*texture
	samplers map[backend.SamplerID]backend.SamplerDescriptor
	kernels  map[backend.KernelID]*kernel
	events   map[backend.EventID]*event

	retire chan *submission
	quit   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type buffer struct {
	hal     hal.Buffer
	size    int
	storage backend.StorageMode
}

type texture struct {
	hal  hal.Texture
	view hal.TextureView
	desc backend.TextureDescriptor
}

// event is a host-side monotonic counter, same discipline as the cpu
// backend: device-side completion goroutines signal it after the fence
// wait retires a submission.
type event struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func newDevice(cfg *config) *Device {
	d := &Device{
		dev:      cfg.device,
		queue:    cfg.queue,
		limits:   cfg.limits,
		name:     cfg.name,
		buffers:  make(map[backend.BufferID]*buffer),
		textures: make(map[backend.TextureID]*texture),
		samplers: make(map[backend.SamplerID]backend.SamplerDescriptor),
		kernels:  make(map[backend.KernelID]*kernel),
		events:   make(map[backend.EventID]*event),
		retire:   make(chan *submission, 64),
		quit:     make(chan struct{}),
	}
	d.nextID.Store(1)
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Device) newID() uint64 { return d.nextID.Add(1) - 1 }

// Name returns the backend identifier.
func (d *Device) Name() string { return "wgpu" }

// Capabilities derives the capability surface from the configured hal
// limits. Function tables have no hal expression and stay off; shared
// events, archives, heaps and indirect command buffers are host-side and
// always on.
func (d *Device) Capabilities() backend.Capabilities {
	maxThreads := int(d.limits.MaxComputeWorkgroupSizeX)
	if maxThreads < 1 {
		maxThreads = 256
	}
	return backend.Capabilities{
		SupportsGPUOnlyBuffers:         true,
		SupportsSharedEvents:           true,
		SupportsBinaryArchives:         true,
		SupportsHeaps:                  true,
		SupportsIndirectCommandBuffers: true,
		SupportsFunctionTables:         false,
		SupportsNonUniformThreadgroups: false,

		MaxThreadgroupMemory:         16 * 1024,
		MaxThreadsPerThreadgroup:     maxThreads,
		ThreadExecutionWidth:         threadExecutionWidth,
		MaxBufferLength:              int(d.limits.MaxBufferSize),
		RecommendedMaxWorkingSetSize: int(d.limits.MaxBufferSize),

		DeviceName: d.name,
	}
}

// Info answers device info queries from the configured limits.
func (d *Device) Info(q backend.InfoQuery) (backend.InfoValue, error) {
	caps := d.Capabilities()
	switch q {
	case backend.InfoName:
		return backend.InfoValue{Str: d.name}, nil
	case backend.InfoMaxThreadsPerThreadgroup:
		return backend.InfoValue{Uint: uint64(caps.MaxThreadsPerThreadgroup)}, nil
	case backend.InfoThreadExecutionWidth:
		return backend.InfoValue{Uint: threadExecutionWidth}, nil
	case backend.InfoMaxBufferLength:
		return backend.InfoValue{Uint: uint64(caps.MaxBufferLength)}, nil
	case backend.InfoSupportsGPUOnlyBuffers:
		return backend.InfoValue{Bool: true}, nil
	default:
		return backend.InfoValue{}, backend.ErrNotSupported
	}
}

// === Buffers ===

func bufferUsage(storage backend.StorageMode) types.BufferUsage {
	usage := types.BufferUsageStorage | types.BufferUsageCopySrc | types.BufferUsageCopyDst
	switch storage {
	case backend.StoragePrivate:
		// No map flags: device-only.
	case backend.StorageCPUToGPU:
		usage |= types.BufferUsageMapWrite
	case backend.StorageGPUToCPU:
		usage |= types.BufferUsageMapRead
	default:
		usage |= types.BufferUsageMapRead | types.BufferUsageMapWrite
	}
	return usage
}

// CreateBuffer creates a storage buffer. Initial content goes through
// queue.WriteBuffer, which is ordered before later submissions.
func (d *Device) CreateBuffer(desc backend.BufferDescriptor, initial []byte) (backend.BufferID, error) {
	if desc.Size <= 0 {
		return backend.InvalidID, fmt.Errorf("wgpu: buffer size must be positive, got %d", desc.Size)
	}

	halBuf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  uint64(desc.Size),
		Usage: bufferUsage(desc.Storage),
	})
	if err != nil {
		return backend.InvalidID, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	if len(initial) > 0 {
		d.queue.WriteBuffer(halBuf, 0, initial)
	}

	id := backend.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{hal: halBuf, size: desc.Size, storage: desc.Storage}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id backend.BufferID) {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	if ok {
		delete(d.buffers, id)
	}
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBuffer(buf.hal)
	}
}

// WriteBuffer writes through the queue. Private buffers refuse the
// direct write; callers stage through CopyBuffer.
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
	if offset < 0 || offset+len(data) > buf.size {
		return backend.ErrOutOfRange
	}
	d.queue.WriteBuffer(buf.hal, uint64(offset), data)
	return nil
}

// ReadBuffer copies the range into a map-read staging buffer and waits
// for the copy. The hal exposes no host mapping yet, so the final map
// step fails; callers fall back to the cpu backend for readback-heavy
// work until the hal grows buffer mapping.
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
	if offset < 0 || offset+len(dst) > buf.size {
		return backend.ErrOutOfRange
	}
	if len(dst) == 0 {
		return nil
	}

	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label:            "staging-readback",
		Size:             uint64(len(dst)),
		Usage:            types.BufferUsageMapRead | types.BufferUsageCopyDst,
		MappedAtCreation: true,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	if err := d.copySync(buf.hal, uint64(offset), staging, 0, uint64(len(dst))); err != nil {
		return err
	}

	return fmt.Errorf("wgpu: %w: hal buffer mapping is not available", backend.ErrNotSupported)
}

// CopyBuffer performs a device-side copy and waits for it, ordered after
// previously submitted work.
func (d *Device) CopyBuffer(src backend.BufferID, srcOffset int, dst backend.BufferID, dstOffset, n int) error {
	d.mu.RLock()
	sb, sok := d.buffers[src]
	db, dok := d.buffers[dst]
	d.mu.RUnlock()
	if !sok || !dok {
		return backend.ErrInvalidHandle
	}
	if srcOffset < 0 || dstOffset < 0 || n < 0 ||
		srcOffset+n > sb.size || dstOffset+n > db.size {
		return backend.ErrOutOfRange
	}
	return d.copySync(sb.hal, uint64(srcOffset), db.hal, uint64(dstOffset), uint64(n))
}

// copySync encodes one buffer copy, submits it behind a fence and waits.
func (d *Device) copySync(src hal.Buffer, srcOffset uint64, dst hal.Buffer, dstOffset, n uint64) error {
	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "buffer-copy"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("buffer-copy"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(src, dst, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: n},
	})
	cmdBuffer, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer cmdBuffer.Destroy()

	fence, err := d.dev.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuffer}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit copy: %w", err)
	}
	ok, err := d.dev.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for copy: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: copy timed out after %s", fenceTimeout)
	}
	return nil
}

// === Textures ===

func textureFormat(f backend.TextureFormat) types.TextureFormat {
	switch f {
	case backend.TextureFormatR8Unorm:
		return types.TextureFormatR8Unorm
	case backend.TextureFormatR32Float:
		return types.TextureFormatR32Float
	case backend.TextureFormatRG32Float:
		return types.TextureFormatRG32Float
	case backend.TextureFormatRGBA32Float:
		return types.TextureFormatRGBA32Float
	default:
		return types.TextureFormatRGBA8Unorm
	}
}

// CreateTexture creates a storage texture.
func (d *Device) CreateTexture(desc backend.TextureDescriptor, initial []byte) (backend.TextureID, error) {
	if desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0 {
		return backend.InvalidID, fmt.Errorf("wgpu: texture extent must be positive, got %dx%dx%d",
			desc.Width, desc.Height, desc.Depth)
	}

	halTex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.Depth),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     types.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         types.TextureUsageCopySrc | types.TextureUsageCopyDst | types.TextureUsageStorageBinding,
	})
	if err != nil {
		return backend.InvalidID, fmt.Errorf("wgpu: create texture: %w", err)
	}

	view, err := d.dev.CreateTextureView(halTex, &hal.TextureViewDescriptor{Label: desc.Label})
	if err != nil {
		d.dev.DestroyTexture(halTex)
		return backend.InvalidID, fmt.Errorf("wgpu: create texture view: %w", err)
	}

	id := backend.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = &texture{hal: halTex, view: view, desc: desc}
	d.mu.Unlock()

	if len(initial) > 0 {
		if err := d.WriteTexture(id, initial); err != nil {
			d.DestroyTexture(id)
			return backend.InvalidID, err
		}
	}
	return id, nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id backend.TextureID) {
	d.mu.Lock()
	tex, ok := d.textures[id]
	if ok {
		delete(d.textures, id)
	}
	d.mu.Unlock()
	if ok {
		d.dev.DestroyTextureView(tex.view)
		d.dev.DestroyTexture(tex.hal)
	}
}

// WriteTexture uploads tightly packed texels through the queue.
func (d *Device) WriteTexture(id backend.TextureID, data []byte) error {
	d.mu.RLock()
	tex, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	bpt := tex.desc.Format.BytesPerTexel()
	if len(data) > tex.desc.Width*tex.desc.Height*tex.desc.Depth*bpt {
		return backend.ErrOutOfRange
	}

	d.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  tex.hal,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   types.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(tex.desc.Width * bpt),
			RowsPerImage: uint32(tex.desc.Height),
		},
		&hal.Extent3D{
			Width:              uint32(tex.desc.Width),
			Height:             uint32(tex.desc.Height),
			DepthOrArrayLayers: uint32(tex.desc.Depth),
		},
	)
	return nil
}

// ReadTexture is unavailable: the hal exposes no texture readback path.
func (d *Device) ReadTexture(id backend.TextureID, dst []byte) error {
	d.mu.RLock()
	_, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}
	return fmt.Errorf("wgpu: texture readback: %w", backend.ErrNotSupported)
}

// === Samplers ===

// CreateSampler records the sampler state host-side. The hal compute path
// has no sampler objects; dispatches that bind samplers are rejected at
// encode time.
func (d *Device) CreateSampler(desc backend.SamplerDescriptor) (backend.SamplerID, error) {
	id := backend.SamplerID(d.newID())
	d.mu.Lock()
	d.samplers[id] = desc
	d.mu.Unlock()
	return id, nil
}

// DestroySampler releases a sampler record.
func (d *Device) DestroySampler(id backend.SamplerID) {
	d.mu.Lock()
	delete(d.samplers, id)
	d.mu.Unlock()
}

// === Shared events ===

// CreateEvent creates a host-side event counter.
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

// DestroyEvent releases an event.
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

// Close stops the retire goroutine and releases every tracked resource.
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
	defer d.mu.Unlock()
	for id, buf := range d.buffers {
		d.dev.DestroyBuffer(buf.hal)
		delete(d.buffers, id)
	}
	for id, tex := range d.textures {
		d.dev.DestroyTexture(tex.hal)
		delete(d.textures, id)
	}
	for id, k := range d.kernels {
		k.destroy(d.dev)
		delete(d.kernels, id)
	}
	for id := range d.samplers {
		delete(d.samplers, id)
	}
	for id := range d.events {
		delete(d.events, id)
	}
}
