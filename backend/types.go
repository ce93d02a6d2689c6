package backend

// Resource IDs
//
// These opaque IDs represent backend resources. Each Device implementation
// maintains a mapping between IDs and actual driver objects. IDs are uint64
// to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// TextureID is an opaque handle to a device texture.
type TextureID uint64

// SamplerID is an opaque handle to a sampler state.
type SamplerID uint64

// KernelID is an opaque handle to a compiled compute kernel.
type KernelID uint64

// EventID is an opaque handle to a shared event counter.
type EventID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// StorageMode selects where a buffer lives and who may map it.
type StorageMode uint32

const (
	// StorageShared is CPU and GPU accessible memory (the default).
	StorageShared StorageMode = iota

	// StoragePrivate is device-only memory. Its content can be set only at
	// creation time; later access requires a transfer copy through a shared
	// staging buffer.
	StoragePrivate

	// StorageCPUToGPU is shared memory optimized for host writes.
	StorageCPUToGPU

	// StorageGPUToCPU is shared memory optimized for host reads.
	StorageGPUToCPU
)

// TextureFormat specifies the format of texel data.
type TextureFormat uint32

const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatR8Unorm is 8-bit red channel only.
	TextureFormatR8Unorm

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRG32Float is 32-bit RG, floating point.
	TextureFormatRG32Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float
)

// BytesPerTexel returns the size of one texel in the given format.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRGBA8Unorm, TextureFormatR32Float:
		return 4
	case TextureFormatRG32Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// Filter selects a sampler filtering mode.
type Filter uint32

const (
	// FilterNearest selects nearest-neighbor sampling.
	FilterNearest Filter = iota

	// FilterLinear selects linear interpolation.
	FilterLinear
)

// AddressMode selects how out-of-range texture coordinates are resolved.
type AddressMode uint32

const (
	// AddressClampToEdge clamps coordinates to the texture edge.
	AddressClampToEdge AddressMode = iota

	// AddressRepeat wraps coordinates around.
	AddressRepeat

	// AddressMirroredRepeat wraps coordinates with mirroring.
	AddressMirroredRepeat

	// AddressClampToZero returns transparent black outside the texture.
	AddressClampToZero
)

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes. Must be positive.
	Size int

	// Storage selects the memory placement.
	Storage StorageMode
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Width, Height and Depth are the texture extents in texels.
	// Depth 1 means a 2-D texture.
	Width, Height, Depth int

	// Format is the texel format.
	Format TextureFormat
}

// SamplerDescriptor describes a sampler state.
type SamplerDescriptor struct {
	MinFilter Filter
	MagFilter Filter

	AddressU AddressMode
	AddressV AddressMode
	AddressW AddressMode

	// NormalizedCoordinates selects [0,1] coordinates when true,
	// texel coordinates when false.
	NormalizedCoordinates bool
}

// KernelDescriptor describes a kernel to compile or load.
type KernelDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Source is the kernel source text. Empty when loading from Library.
	Source string

	// Library is a precompiled kernel library blob. Nil when compiling
	// from Source.
	Library []byte

	// Entry is the kernel entry point name. Required.
	Entry string
}

// KernelInfo reports compiled-kernel limits and reflection data.
type KernelInfo struct {
	// MaxThreadsPerThreadgroup is the largest total threadgroup size the
	// kernel may be dispatched with.
	MaxThreadsPerThreadgroup int

	// ThreadExecutionWidth is the SIMD width the kernel executes at.
	ThreadExecutionWidth int

	// RequiredThreadgroup is a fixed threadgroup size the kernel declares,
	// or all zeros when the kernel imposes none.
	RequiredThreadgroup [3]int

	// BufferCount, TextureCount and SamplerCount are the resource counts
	// the kernel expects. -1 means the backend cannot reflect the count
	// and the encoder skips the mismatch check.
	BufferCount  int
	TextureCount int
	SamplerCount int

	// ThreadgroupMemory is the static threadgroup memory use in bytes.
	ThreadgroupMemory int
}

// BufferBinding binds a buffer range at a kernel buffer index.
type BufferBinding struct {
	Index  uint32
	Buffer BufferID

	// Offset is the byte offset into the buffer.
	Offset int

	// Size is the byte length to bind. 0 binds the rest of the buffer.
	Size int
}

// UniformBinding binds small constant bytes at a kernel buffer index.
type UniformBinding struct {
	Index uint32
	Data  []byte
}

// TextureBinding binds a texture at a kernel texture index.
type TextureBinding struct {
	Index   uint32
	Texture TextureID
}

// SamplerBinding binds a sampler at a kernel sampler index.
type SamplerBinding struct {
	Index   uint32
	Sampler SamplerID
}

// DispatchCommand is one fully resolved dispatch: the encoder core has
// already validated the descriptor and fixed the threadgroup geometry, so
// backends execute it without further policy decisions.
//
// Uniforms are listed before Buffers on purpose: backends apply them in
// order, so a buffer binding at the same index shadows the uniform for
// this command only.
type DispatchCommand struct {
	Kernel KernelID

	Uniforms []UniformBinding
	Buffers  []BufferBinding
	Textures []TextureBinding
	Samplers []SamplerBinding

	// Grid is the total thread count per dimension.
	Grid [3]int

	// GroupSize is the resolved threads-per-threadgroup per dimension.
	GroupSize [3]int

	// Groups is the threadgroup count per dimension, covering Grid.
	Groups [3]int
}

// Capabilities is the feature and limit surface a Device reports once at
// creation. Feature flags are true only when both the hardware and the
// backend implementation support the feature.
type Capabilities struct {
	SupportsGPUOnlyBuffers         bool
	SupportsSharedEvents           bool
	SupportsBinaryArchives         bool
	SupportsHeaps                  bool
	SupportsIndirectCommandBuffers bool
	SupportsFunctionTables         bool
	SupportsNonUniformThreadgroups bool

	MaxThreadgroupMemory         int
	MaxThreadsPerThreadgroup     int
	ThreadExecutionWidth         int
	MaxBufferLength              int
	RecommendedMaxWorkingSetSize int

	DeviceName string
}

// InfoQuery enumerates device info queries.
type InfoQuery int

const (
	// InfoName queries the device name string.
	InfoName InfoQuery = iota

	// InfoMaxThreadsPerThreadgroup queries the threadgroup thread budget.
	InfoMaxThreadsPerThreadgroup

	// InfoThreadExecutionWidth queries the SIMD width.
	InfoThreadExecutionWidth

	// InfoMaxBufferLength queries the largest creatable buffer in bytes.
	InfoMaxBufferLength

	// InfoSupportsGPUOnlyBuffers queries private storage support.
	InfoSupportsGPUOnlyBuffers

	// InfoMaxComputeUnits queries the number of compute units.
	InfoMaxComputeUnits
)

// InfoValue is the typed result of a device info query. Exactly one of the
// value fields is meaningful, selected by the query.
type InfoValue struct {
	Str  string
	Uint uint64
	Bool bool
}
