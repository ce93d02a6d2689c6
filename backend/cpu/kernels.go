package cpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/compute/backend"
)

// KernelFunc is the body of a CPU kernel, invoked once per thread.
// Returning a non-nil error aborts the dispatch; the error is reported
// through the submission's completion (and from there the fence).
type KernelFunc func(inv *Invocation) error

// KernelSpec describes a registered kernel: its body plus the reflection
// data a compiled pipeline would carry.
type KernelSpec struct {
	// Fn is the per-thread kernel body. Required.
	Fn KernelFunc

	// BufferCount is the number of buffer/uniform indices the kernel
	// expects bound. -1 disables the encoder's mismatch check.
	BufferCount int

	// TextureCount and SamplerCount are the expected texture and sampler
	// binding counts.
	TextureCount int
	SamplerCount int

	// RequiredThreadgroup pins the threadgroup size when non-zero.
	RequiredThreadgroup [3]int

	// ThreadgroupMemory is the declared threadgroup memory in bytes.
	ThreadgroupMemory int
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]KernelSpec)
)

// RegisterKernel registers a kernel under its entry-point name.
// Compiling a kernel with that entry point resolves to spec. Registering
// the same name again replaces the previous spec.
func RegisterKernel(entry string, spec KernelSpec) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[entry] = spec
}

// lookupKernel resolves an entry point, or returns false.
func lookupKernel(entry string) (KernelSpec, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	spec, ok := kernels[entry]
	return spec, ok
}

// Invocation is the per-thread execution context handed to a KernelFunc.
// Index accessors resolve against the dispatch's bindings: a buffer bound
// at an index wins over uniform bytes at the same index for this dispatch.
type Invocation struct {
	// Global is the global thread position in the grid.
	Global [3]int

	// Local is the thread position within its threadgroup.
	Local [3]int

	// Group is the threadgroup position in the dispatch.
	Group [3]int

	// Grid is the total thread count per dimension.
	Grid [3]int

	// GroupSize is the threads-per-threadgroup per dimension.
	GroupSize [3]int

	bindings *bindingSet
}

// bindingSet is the resolved resource table for one dispatch. Uniforms are
// applied first, then buffers, so buffers shadow uniforms per call.
type bindingSet struct {
	bytes    map[uint32][]byte
	textures map[uint32]*texture
	samplers map[uint32]*sampler
}

// Bytes returns the bytes bound at a buffer index (buffer content or
// uniform bytes), or nil when nothing is bound there.
func (inv *Invocation) Bytes(index uint32) []byte {
	return inv.bindings.bytes[index]
}

// Len32 returns the number of 32-bit elements bound at index.
func (inv *Invocation) Len32(index uint32) int {
	return len(inv.bindings.bytes[index]) / 4
}

// Float32 reads a float32 element from the bytes bound at index.
func (inv *Invocation) Float32(index uint32, elem int) float32 {
	b := inv.bindings.bytes[index]
	return math.Float32frombits(binary.LittleEndian.Uint32(b[elem*4:]))
}

// SetFloat32 writes a float32 element into the bytes bound at index.
func (inv *Invocation) SetFloat32(index uint32, elem int, v float32) {
	b := inv.bindings.bytes[index]
	binary.LittleEndian.PutUint32(b[elem*4:], math.Float32bits(v))
}

// Texture returns a view of the texture bound at index, or nil when
// nothing is bound there.
func (inv *Invocation) Texture(index uint32) *TextureView {
	tex := inv.bindings.textures[index]
	if tex == nil {
		return nil
	}
	return &TextureView{tex: tex}
}

// Sampler returns the descriptor of the sampler bound at index. ok is
// false when nothing is bound there.
func (inv *Invocation) Sampler(index uint32) (SamplerState, bool) {
	smp := inv.bindings.samplers[index]
	if smp == nil {
		return SamplerState{}, false
	}
	return SamplerState(smp.desc), true
}

// Uint32 reads a uint32 element from the bytes bound at index.
func (inv *Invocation) Uint32(index uint32, elem int) uint32 {
	b := inv.bindings.bytes[index]
	return binary.LittleEndian.Uint32(b[elem*4:])
}

// SetUint32 writes a uint32 element into the bytes bound at index.
func (inv *Invocation) SetUint32(index uint32, elem int, v uint32) {
	b := inv.bindings.bytes[index]
	binary.LittleEndian.PutUint32(b[elem*4:], v)
}

// SamplerState is the descriptor of a bound sampler, as seen by a kernel.
type SamplerState backend.SamplerDescriptor

// TextureView gives a kernel direct texel access to a bound texture.
type TextureView struct {
	tex *texture
}

// Width returns the texture width in texels.
func (v *TextureView) Width() int { return v.tex.desc.Width }

// Height returns the texture height in texels.
func (v *TextureView) Height() int { return v.tex.desc.Height }

// Depth returns the texture depth in texels.
func (v *TextureView) Depth() int { return v.tex.desc.Depth }

// Format returns the texel format.
func (v *TextureView) Format() backend.TextureFormat { return v.tex.desc.Format }

// texelOffset computes the byte offset of a texel, or -1 out of bounds.
func (v *TextureView) texelOffset(x, y, z int) int {
	d := v.tex.desc
	if x < 0 || y < 0 || z < 0 || x >= d.Width || y >= d.Height || z >= d.Depth {
		return -1
	}
	return ((z*d.Height+y)*d.Width + x) * d.Format.BytesPerTexel()
}

// Load returns the raw bytes of one texel, or nil out of bounds.
func (v *TextureView) Load(x, y, z int) []byte {
	off := v.texelOffset(x, y, z)
	if off < 0 {
		return nil
	}
	return v.tex.data[off : off+v.tex.desc.Format.BytesPerTexel()]
}

// Store overwrites one texel with raw bytes. Out-of-bounds stores and
// short texels are dropped.
func (v *TextureView) Store(x, y, z int, texel []byte) {
	off := v.texelOffset(x, y, z)
	if off < 0 || len(texel) < v.tex.desc.Format.BytesPerTexel() {
		return
	}
	copy(v.tex.data[off:], texel[:v.tex.desc.Format.BytesPerTexel()])
}

// LoadFloat reads one channel of a float texel (R32Float, RG32Float or
// RGBA32Float formats).
func (v *TextureView) LoadFloat(x, y, z, channel int) float32 {
	off := v.texelOffset(x, y, z)
	if off < 0 || channel < 0 || (channel+1)*4 > v.tex.desc.Format.BytesPerTexel() {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.tex.data[off+channel*4:]))
}

// StoreFloat writes one channel of a float texel.
func (v *TextureView) StoreFloat(x, y, z, channel int, val float32) {
	off := v.texelOffset(x, y, z)
	if off < 0 || channel < 0 || (channel+1)*4 > v.tex.desc.Format.BytesPerTexel() {
		return
	}
	binary.LittleEndian.PutUint32(v.tex.data[off+channel*4:], math.Float32bits(val))
}

// Built-in kernels. These cover the standard workloads the library ships
// with (and that its test suite exercises): element-wise add, per-group
// partial reduction, scalar fill, SAXPY, uniform-scaled copy and a
// single-cell increment.
func init() {
	RegisterKernel("vector_add", KernelSpec{
		// c[i] = a[i] + b[i], guarded on the grid width.
		Fn: func(inv *Invocation) error {
			i := inv.Global[0]
			if i >= inv.Grid[0] || i >= inv.Len32(2) {
				return nil
			}
			inv.SetFloat32(2, i, inv.Float32(0, i)+inv.Float32(1, i))
			return nil
		},
		BufferCount: 3,
	})

	RegisterKernel("reduce_sum_partial", KernelSpec{
		// partial[g] = sum of the group's slice of the input. Thread 0 of
		// each group walks its span so partials are deterministic.
		Fn: func(inv *Invocation) error {
			if inv.Local[0] != 0 {
				return nil
			}
			start := inv.Group[0] * inv.GroupSize[0]
			end := start + inv.GroupSize[0]
			if end > inv.Grid[0] {
				end = inv.Grid[0]
			}
			if n := inv.Len32(0); end > n {
				end = n
			}
			var sum float32
			for i := start; i < end; i++ {
				sum += inv.Float32(0, i)
			}
			inv.SetFloat32(1, inv.Group[0], sum)
			return nil
		},
		BufferCount: 2,
	})

	RegisterKernel("increment", KernelSpec{
		// buf[0] += 1.0. Dispatched with a 1x1x1 grid.
		Fn: func(inv *Invocation) error {
			inv.SetFloat32(0, 0, inv.Float32(0, 0)+1.0)
			return nil
		},
		BufferCount: 1,
	})

	RegisterKernel("fill", KernelSpec{
		// buf[i] = value, value from uniform bytes at index 1.
		Fn: func(inv *Invocation) error {
			i := inv.Global[0]
			if i >= inv.Grid[0] || i >= inv.Len32(0) {
				return nil
			}
			inv.SetFloat32(0, i, inv.Float32(1, 0))
			return nil
		},
		BufferCount: 2,
	})

	RegisterKernel("scale_by_uniform", KernelSpec{
		// out[i] = in[i] * scale, scale from index 2 (uniform or buffer).
		Fn: func(inv *Invocation) error {
			i := inv.Global[0]
			if i >= inv.Grid[0] || i >= inv.Len32(1) {
				return nil
			}
			inv.SetFloat32(1, i, inv.Float32(0, i)*inv.Float32(2, 0))
			return nil
		},
		BufferCount: 3,
	})

	RegisterKernel("saxpy", KernelSpec{
		// r[i] = alpha*x[i] + y[i], alpha from uniform bytes at index 3.
		Fn: func(inv *Invocation) error {
			i := inv.Global[0]
			if i >= inv.Grid[0] || i >= inv.Len32(2) {
				return nil
			}
			a := inv.Float32(3, 0)
			inv.SetFloat32(2, i, a*inv.Float32(0, i)+inv.Float32(1, i))
			return nil
		},
		BufferCount: 4,
	})

	RegisterKernel("texture_scale", KernelSpec{
		// tex[x,y].r *= scale, scale from uniform bytes at buffer index 0.
		// One thread per texel of a 2-D R32Float texture at texture index 0.
		Fn: func(inv *Invocation) error {
			x, y := inv.Global[0], inv.Global[1]
			if x >= inv.Grid[0] || y >= inv.Grid[1] {
				return nil
			}
			tex := inv.Texture(0)
			if tex == nil {
				return fmt.Errorf("texture_scale: no texture bound at index 0")
			}
			scale := inv.Float32(0, 0)
			tex.StoreFloat(x, y, 0, 0, tex.LoadFloat(x, y, 0, 0)*scale)
			return nil
		},
		BufferCount:  1,
		TextureCount: 1,
	})

	RegisterKernel("trap", KernelSpec{
		// Always faults. Used to exercise execution-error reporting.
		Fn: func(inv *Invocation) error {
			return fmt.Errorf("kernel trap at thread (%d,%d,%d)",
				inv.Global[0], inv.Global[1], inv.Global[2])
		},
		BufferCount: -1,
	})
}
