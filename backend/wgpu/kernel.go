package wgpu

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	"github.com/gogpu/compute/backend"
)

// kernel is a compiled WGSL compute shader plus its pipeline variants.
// One shader module serves every dispatch; the pipeline and layouts
// depend on the binding signature (which indices carry uniforms, storage
// buffers or storage textures), so variants are cached per signature.
type kernel struct {
	module hal.ShaderModule
	entry  string

	mu       sync.Mutex
	variants map[uint64]*pipelineVariant
}

type pipelineVariant struct {
	bindLayout     hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline
}

// CompileKernel compiles WGSL source through naga, or loads precompiled
// SPIR-V when desc.Library is set. The naga diagnostic text doubles as
// the compile log on failure.
func (d *Device) CompileKernel(desc backend.KernelDescriptor) (backend.KernelID, backend.KernelInfo, string, error) {
	if desc.Entry == "" {
		return backend.InvalidID, backend.KernelInfo{}, "", fmt.Errorf("wgpu: kernel entry point is required")
	}

	var spirv []uint32
	switch {
	case len(desc.Library) > 0:
		if len(desc.Library)%4 != 0 {
			return backend.InvalidID, backend.KernelInfo{}, "", fmt.Errorf("wgpu: library blob is not SPIR-V (length %d)", len(desc.Library))
		}
		spirv = spirvWords(desc.Library)
	case desc.Source != "":
		spirvBytes, err := naga.Compile(desc.Source)
		if err != nil {
			return backend.InvalidID, backend.KernelInfo{}, err.Error(), backend.ErrCompile
		}
		spirv = spirvWords(spirvBytes)
	default:
		return backend.InvalidID, backend.KernelInfo{}, "", fmt.Errorf("wgpu: kernel needs source or a library blob")
	}

	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return backend.InvalidID, backend.KernelInfo{}, err.Error(), backend.ErrCompile
	}

	k := &kernel{
		module:   module,
		entry:    desc.Entry,
		variants: make(map[uint64]*pipelineVariant),
	}
	id := backend.KernelID(d.newID())
	d.mu.Lock()
	d.kernels[id] = k
	d.mu.Unlock()

	caps := d.Capabilities()
	return id, backend.KernelInfo{
		MaxThreadsPerThreadgroup: caps.MaxThreadsPerThreadgroup,
		ThreadExecutionWidth:     threadExecutionWidth,
		// No reflection through the hal: counts unknown, checks skipped.
		BufferCount:  -1,
		TextureCount: -1,
		SamplerCount: -1,
	}, "", nil
}

// DestroyKernel releases a kernel and its cached pipeline variants.
func (d *Device) DestroyKernel(id backend.KernelID) {
	d.mu.Lock()
	k, ok := d.kernels[id]
	if ok {
		delete(d.kernels, id)
	}
	d.mu.Unlock()
	if ok {
		k.destroy(d.dev)
	}
}

func (k *kernel) destroy(dev hal.Device) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for sig, v := range k.variants {
		dev.DestroyComputePipeline(v.pipeline)
		dev.DestroyPipelineLayout(v.pipelineLayout)
		dev.DestroyBindGroupLayout(v.bindLayout)
		delete(k.variants, sig)
	}
	dev.DestroyShaderModule(k.module)
}

// spirvWords converts little-endian SPIR-V bytes to 32-bit words.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// binding kinds for signature hashing and layout construction.
const (
	bindUniform = iota
	bindStorage
	bindTexture
)

type bindingSlot struct {
	binding uint32
	kind    int
	format  types.TextureFormat
}

// signature hashes the binding shape with FNV-1a so pipeline variants are
// shared between dispatches that bind the same way.
func signature(slots []bindingSlot) uint64 {
	h := fnv.New64a()
	var buf [9]byte
	for _, s := range slots {
		binary.LittleEndian.PutUint32(buf[0:], s.binding)
		buf[4] = byte(s.kind)
		binary.LittleEndian.PutUint32(buf[5:], uint32(s.format))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// variant returns the cached pipeline for the binding shape, building it
// on first use. Double-checked under the kernel lock: concurrent misses
// for the same signature build once.
func (k *kernel) variant(d *Device, slots []bindingSlot) (*pipelineVariant, error) {
	sig := signature(slots)

	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.variants[sig]; ok {
		return v, nil
	}

	entries := make([]types.BindGroupLayoutEntry, len(slots))
	for i, s := range slots {
		entry := types.BindGroupLayoutEntry{
			Binding:    s.binding,
			Visibility: types.ShaderStageCompute,
		}
		switch s.kind {
		case bindUniform:
			entry.Buffer = &types.BufferBindingLayout{Type: types.BufferBindingTypeUniform}
		case bindStorage:
			entry.Buffer = &types.BufferBindingLayout{Type: types.BufferBindingTypeStorage}
		case bindTexture:
			entry.StorageTexture = &types.StorageTextureBindingLayout{
				Access:        types.StorageTextureAccessReadWrite,
				Format:        s.format,
				ViewDimension: types.TextureViewDimension2D,
			}
		}
		entries[i] = entry
	}

	bindLayout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.entry,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}

	pipelineLayout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.entry,
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.dev.DestroyBindGroupLayout(bindLayout)
		return nil, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}

	pipeline, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  k.entry,
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     k.module,
			EntryPoint: k.entry,
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(pipelineLayout)
		d.dev.DestroyBindGroupLayout(bindLayout)
		return nil, fmt.Errorf("wgpu: create compute pipeline: %w", err)
	}

	v := &pipelineVariant{
		bindLayout:     bindLayout,
		pipelineLayout: pipelineLayout,
		pipeline:       pipeline,
	}
	k.variants[sig] = v
	return v, nil
}
