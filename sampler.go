package compute

import "github.com/gogpu/compute/backend"

// Filter selects a sampler filtering mode.
type Filter = backend.Filter

// Filtering modes.
const (
	FilterNearest = backend.FilterNearest
	FilterLinear  = backend.FilterLinear
)

// AddressMode selects how out-of-range texture coordinates resolve.
type AddressMode = backend.AddressMode

// Address modes.
const (
	AddressClampToEdge    = backend.AddressClampToEdge
	AddressRepeat         = backend.AddressRepeat
	AddressMirroredRepeat = backend.AddressMirroredRepeat
	AddressClampToZero    = backend.AddressClampToZero
)

// SamplerDesc describes a sampler state.
type SamplerDesc struct {
	MinFilter Filter
	MagFilter Filter

	AddressU AddressMode
	AddressV AddressMode
	AddressW AddressMode

	// NormalizedCoordinates selects [0,1] coordinates when true, texel
	// coordinates when false.
	NormalizedCoordinates bool
}

// Sampler is an immutable sampler state created from a Context.
type Sampler struct {
	ctx  *Context
	id   backend.SamplerID
	desc SamplerDesc
}

// NewSampler creates a sampler state.
func (c *Context) NewSampler(desc SamplerDesc) (*Sampler, error) {
	if err := c.checkOpen("NewSampler"); err != nil {
		return nil, err
	}
	id, err := c.dev.CreateSampler(backend.SamplerDescriptor{
		MinFilter:             desc.MinFilter,
		MagFilter:             desc.MagFilter,
		AddressU:              desc.AddressU,
		AddressV:              desc.AddressV,
		AddressW:              desc.AddressW,
		NormalizedCoordinates: desc.NormalizedCoordinates,
	})
	if err != nil {
		return nil, newError(ErrDeviceFailed, "NewSampler", "%v", err)
	}
	return &Sampler{ctx: c, id: id, desc: desc}, nil
}

// Destroy releases the sampler.
func (s *Sampler) Destroy() {
	if s.id == backend.InvalidID {
		return
	}
	s.ctx.dev.DestroySampler(s.id)
	s.id = backend.InvalidID
}

// Desc returns the descriptor the sampler was created with.
func (s *Sampler) Desc() SamplerDesc { return s.desc }
