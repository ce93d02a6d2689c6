package wgpu

import (
	"fmt"
	"slices"

	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	"github.com/gogpu/compute/backend"
)

// submission is one in-flight command buffer: the retire goroutine waits
// on its fence, releases its transient resources, fires its event signals
// and closes done. err is written before done closes.
type submission struct {
	cmdBuffer hal.CommandBuffer
	fence     hal.Fence

	transients []hal.Buffer
	groups     []hal.BindGroup
	signals    []eventSignal

	done chan struct{}
	err  error
}

type eventSignal struct {
	event backend.EventID
	value uint64
}

// Done implements backend.Completion.
func (s *submission) Done() <-chan struct{} { return s.done }

// Err implements backend.Completion. Valid only after Done is closed.
func (s *submission) Err() error { return s.err }

// run is the retire goroutine: submissions complete strictly in the
// order they were submitted to the hal queue.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		select {
		case sub := <-d.retire:
			d.retireOne(sub)
		case <-d.quit:
			return
		}
	}
}

func (d *Device) retireOne(sub *submission) {
	if sub.fence != nil {
		ok, err := d.dev.Wait(sub.fence, 1, fenceTimeout)
		if err != nil {
			sub.err = fmt.Errorf("wgpu: fence wait: %w", err)
		} else if !ok {
			sub.err = fmt.Errorf("wgpu: submission timed out after %s", fenceTimeout)
		}
		d.dev.DestroyFence(sub.fence)
	}
	if sub.cmdBuffer != nil {
		sub.cmdBuffer.Destroy()
	}
	for _, g := range sub.groups {
		d.dev.DestroyBindGroup(g)
	}
	for _, b := range sub.transients {
		d.dev.DestroyBuffer(b)
	}

	for _, sig := range sub.signals {
		d.mu.RLock()
		ev, ok := d.events[sig.event]
		d.mu.RUnlock()
		if ok {
			ev.signal(sig.value)
		}
	}
	close(sub.done)
}

// commandList records dispatches into one hal command encoder.
type commandList struct {
	dev   *Device
	label string

	encoder hal.CommandEncoder
	began   bool

	transients []hal.Buffer
	groups     []hal.BindGroup
	signals    []eventSignal

	count     int
	submitted bool
}

// NewCommandList opens an empty recording list. The hal encoder is
// created lazily on the first Encode so empty lists cost nothing.
func (d *Device) NewCommandList(label string) (backend.CommandList, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, backend.ErrNotInitialized
	}
	if label == "" {
		label = "compute"
	}
	return &commandList{dev: d, label: label}, nil
}

func (cl *commandList) ensureEncoder() error {
	if cl.began {
		return nil
	}
	encoder, err := cl.dev.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cl.label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(cl.label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	cl.encoder = encoder
	cl.began = true
	return nil
}

// Encode appends one dispatch: transient uniform buffers are created and
// filled, the pipeline variant for the binding shape is resolved, and a
// compute pass with a single dispatch is recorded.
func (cl *commandList) Encode(cmd backend.DispatchCommand) error {
	if cl.submitted {
		return fmt.Errorf("wgpu: command list already submitted")
	}
	if len(cmd.Samplers) > 0 {
		return fmt.Errorf("wgpu: sampler bindings: %w", backend.ErrNotSupported)
	}

	d := cl.dev
	d.mu.RLock()
	k, ok := d.kernels[cmd.Kernel]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}

	if err := cl.ensureEncoder(); err != nil {
		return err
	}

	// Collect bindings. Uniforms first, buffers after: a buffer at the
	// same index replaces the uniform slot for this dispatch.
	slotByIndex := make(map[uint32]bindingSlot, len(cmd.Uniforms)+len(cmd.Buffers))
	entryByIndex := make(map[uint32]types.BindGroupEntry, len(cmd.Uniforms)+len(cmd.Buffers))

	for _, u := range cmd.Uniforms {
		ubuf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: "uniform",
			Size:  uint64(len(u.Data)),
			Usage: types.BufferUsageUniform | types.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("wgpu: create uniform buffer: %w", err)
		}
		cl.transients = append(cl.transients, ubuf)
		d.queue.WriteBuffer(ubuf, 0, u.Data)

		slotByIndex[u.Index] = bindingSlot{binding: u.Index, kind: bindUniform}
		entryByIndex[u.Index] = types.BindGroupEntry{
			Binding: u.Index,
			Resource: types.BufferBinding{
				Buffer: ubuf.NativeHandle(),
				Offset: 0,
				Size:   uint64(len(u.Data)),
			},
		}
	}

	for _, b := range cmd.Buffers {
		d.mu.RLock()
		buf, ok := d.buffers[b.Buffer]
		d.mu.RUnlock()
		if !ok {
			return fmt.Errorf("wgpu: buffer at index %d: %w", b.Index, backend.ErrInvalidHandle)
		}
		size := b.Size
		if size == 0 {
			size = buf.size - b.Offset
		}
		slotByIndex[b.Index] = bindingSlot{binding: b.Index, kind: bindStorage}
		entryByIndex[b.Index] = types.BindGroupEntry{
			Binding: b.Index,
			Resource: types.BufferBinding{
				Buffer: buf.hal.NativeHandle(),
				Offset: uint64(b.Offset),
				Size:   uint64(size),
			},
		}
	}

	slots := make([]bindingSlot, 0, len(slotByIndex)+len(cmd.Textures))
	entries := make([]types.BindGroupEntry, 0, len(entryByIndex)+len(cmd.Textures))
	for idx, s := range slotByIndex {
		slots = append(slots, s)
		entries = append(entries, entryByIndex[idx])
	}

	for _, t := range cmd.Textures {
		d.mu.RLock()
		tex, ok := d.textures[t.Texture]
		d.mu.RUnlock()
		if !ok {
			return fmt.Errorf("wgpu: texture at index %d: %w", t.Index, backend.ErrInvalidHandle)
		}
		slots = append(slots, bindingSlot{
			binding: t.Index,
			kind:    bindTexture,
			format:  textureFormat(tex.desc.Format),
		})
		entries = append(entries, types.BindGroupEntry{
			Binding:  t.Index,
			Resource: types.TextureViewBinding{TextureView: tex.view.NativeHandle()},
		})
	}

	slices.SortFunc(slots, func(a, b bindingSlot) int { return int(a.binding) - int(b.binding) })
	slices.SortFunc(entries, func(a, b types.BindGroupEntry) int { return int(a.Binding) - int(b.Binding) })

	v, err := k.variant(d, slots)
	if err != nil {
		return err
	}

	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   cl.label,
		Layout:  v.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group: %w", err)
	}
	cl.groups = append(cl.groups, group)

	pass := cl.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: cl.label})
	pass.SetPipeline(v.pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(uint32(cmd.Groups[0]), uint32(cmd.Groups[1]), uint32(cmd.Groups[2]))
	pass.End()

	cl.count++
	return nil
}

// SignalEvent records an event signal fired when the submission retires.
func (cl *commandList) SignalEvent(event backend.EventID, value uint64) error {
	if cl.submitted {
		return fmt.Errorf("wgpu: command list already submitted")
	}
	cl.signals = append(cl.signals, eventSignal{event: event, value: value})
	return nil
}

// Submit ends encoding and hands the command buffer to the hal queue
// behind a fence; the retire goroutine completes the submission when the
// fence signals. An empty list completes immediately.
func (cl *commandList) Submit() (backend.Completion, error) {
	if cl.submitted {
		return nil, fmt.Errorf("wgpu: command list already submitted")
	}
	cl.submitted = true

	sub := &submission{
		transients: cl.transients,
		groups:     cl.groups,
		signals:    cl.signals,
		done:       make(chan struct{}),
	}

	if !cl.began {
		// Nothing recorded: complete on the retire goroutine so event
		// signals still fire in FIFO order.
		select {
		case cl.dev.retire <- sub:
			return sub, nil
		case <-cl.dev.quit:
			return nil, backend.ErrNotInitialized
		}
	}

	cmdBuffer, err := cl.encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}

	fence, err := cl.dev.dev.CreateFence()
	if err != nil {
		cmdBuffer.Destroy()
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}

	if err := cl.dev.queue.Submit([]hal.CommandBuffer{cmdBuffer}, fence, 1); err != nil {
		cl.dev.dev.DestroyFence(fence)
		cmdBuffer.Destroy()
		return nil, fmt.Errorf("wgpu: submit: %w", err)
	}

	sub.cmdBuffer = cmdBuffer
	sub.fence = fence

	select {
	case cl.dev.retire <- sub:
		return sub, nil
	case <-cl.dev.quit:
		return nil, backend.ErrNotInitialized
	}
}

// SetLabel attaches a debug label used for passes recorded after the
// call.
func (cl *commandList) SetLabel(label string) { cl.label = label }
