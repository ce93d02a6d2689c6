package cpu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compute/backend"
)

// dispatch executes one resolved DispatchCommand on the calling goroutine
// tree: one goroutine per threadgroup, threads serial within a group.
func (d *Device) dispatch(cmd backend.DispatchCommand) error {
	d.mu.RLock()
	k, ok := d.kernels[cmd.Kernel]
	d.mu.RUnlock()
	if !ok {
		return backend.ErrInvalidHandle
	}

	bindings, err := d.resolveBindings(k, cmd)
	if err != nil {
		return fmt.Errorf("kernel %q: %w", k.entry, err)
	}

	groups := cmd.Groups
	size := cmd.GroupSize
	for i := 0; i < 3; i++ {
		if groups[i] <= 0 || size[i] <= 0 {
			return fmt.Errorf("kernel %q: degenerate dispatch %v groups of %v", k.entry, groups, size)
		}
	}
	if threads := size[0] * size[1] * size[2]; threads > maxThreadsPerThreadgroup {
		return fmt.Errorf("kernel %q: threadgroup size %v exceeds %d threads",
			k.entry, size, maxThreadsPerThreadgroup)
	}

	var (
		wg       sync.WaitGroup
		aborted  atomic.Bool
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		aborted.Store(true)
	}

	// Bound concurrency at the hardware thread count; dispatches can have
	// far more threadgroups than cores.
	sem := make(chan struct{}, runtime.NumCPU())

	for gz := 0; gz < groups[2]; gz++ {
		for gy := 0; gy < groups[1]; gy++ {
			for gx := 0; gx < groups[0]; gx++ {
				if aborted.Load() {
					goto wait
				}
				wg.Add(1)
				sem <- struct{}{}
				go func(gx, gy, gz int) {
					defer wg.Done()
					defer func() { <-sem }()
					if aborted.Load() {
						return
					}
					if err := runGroup(k.spec.Fn, [3]int{gx, gy, gz}, cmd, bindings); err != nil {
						fail(err)
					}
				}(gx, gy, gz)
			}
		}
	}

wait:
	wg.Wait()
	return firstErr
}

// runGroup executes every thread of one threadgroup serially.
func runGroup(fn KernelFunc, group [3]int, cmd backend.DispatchCommand, bindings *bindingSet) error {
	inv := Invocation{
		Group:     group,
		Grid:      cmd.Grid,
		GroupSize: cmd.GroupSize,
		bindings:  bindings,
	}
	for lz := 0; lz < cmd.GroupSize[2]; lz++ {
		for ly := 0; ly < cmd.GroupSize[1]; ly++ {
			for lx := 0; lx < cmd.GroupSize[0]; lx++ {
				inv.Local = [3]int{lx, ly, lz}
				inv.Global = [3]int{
					group[0]*cmd.GroupSize[0] + lx,
					group[1]*cmd.GroupSize[1] + ly,
					group[2]*cmd.GroupSize[2] + lz,
				}
				if err := fn(&inv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveBindings builds the per-dispatch resource table. Uniform bytes
// bind first, then buffers, so a buffer bound at the same index shadows
// the uniform for this dispatch only.
func (d *Device) resolveBindings(k *kernel, cmd backend.DispatchCommand) (*bindingSet, error) {
	bs := &bindingSet{
		bytes:    make(map[uint32][]byte),
		textures: make(map[uint32]*texture),
		samplers: make(map[uint32]*sampler),
	}

	for _, u := range cmd.Uniforms {
		bs.bytes[u.Index] = u.Data
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, b := range cmd.Buffers {
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return nil, fmt.Errorf("buffer at index %d: %w", b.Index, backend.ErrInvalidHandle)
		}
		end := b.Offset + b.Size
		if b.Size == 0 {
			end = len(buf.data)
		}
		if b.Offset < 0 || end > len(buf.data) || b.Offset > end {
			return nil, fmt.Errorf("buffer at index %d: %w", b.Index, backend.ErrOutOfRange)
		}
		bs.bytes[b.Index] = buf.data[b.Offset:end]
	}

	for _, t := range cmd.Textures {
		tex, ok := d.textures[t.Texture]
		if !ok {
			return nil, fmt.Errorf("texture at index %d: %w", t.Index, backend.ErrInvalidHandle)
		}
		bs.textures[t.Index] = tex
	}

	for _, s := range cmd.Samplers {
		smp, ok := d.samplers[s.Sampler]
		if !ok {
			return nil, fmt.Errorf("sampler at index %d: %w", s.Index, backend.ErrInvalidHandle)
		}
		bs.samplers[s.Index] = smp
	}

	if n := k.spec.BufferCount; n >= 0 && len(bs.bytes) != n {
		return nil, fmt.Errorf("expects %d buffer bindings, got %d", n, len(bs.bytes))
	}
	if n := k.spec.TextureCount; n > 0 && len(bs.textures) != n {
		return nil, fmt.Errorf("expects %d texture bindings, got %d", n, len(bs.textures))
	}
	if n := k.spec.SamplerCount; n > 0 && len(bs.samplers) != n {
		return nil, fmt.Errorf("expects %d sampler bindings, got %d", n, len(bs.samplers))
	}

	return bs, nil
}
