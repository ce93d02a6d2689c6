package compute

import "github.com/gogpu/compute/backend"

// lower validates a DispatchDesc and resolves it into a backend command:
// geometry fixed, uniforms snapshotted, handles extracted. Every dispatch
// variant (sync, async, batch, indirect) funnels through here, so the
// failure modes are identical no matter how the dispatch is driven.
//
// Validation failures are reported before anything is submitted: argument
// problems as ErrInvalidArgument, reflection mismatches as
// ErrDispatchFailed.
func (c *Context) lower(op string, desc DispatchDesc) (backend.DispatchCommand, error) {
	var cmd backend.DispatchCommand

	k := desc.Kernel
	if k == nil {
		return cmd, newError(ErrInvalidArgument, op, "kernel is nil")
	}
	if k.id == backend.InvalidID {
		return cmd, newError(ErrInvalidArgument, op, "kernel is destroyed")
	}
	if k.ctx != c {
		return cmd, newError(ErrInvalidArgument, op, "kernel belongs to a different context")
	}

	for i, n := range desc.Grid {
		if n <= 0 {
			return cmd, newError(ErrInvalidArgument, op, "grid dimension %d must be positive, got %d", i, n)
		}
	}

	size, err := c.resolveThreadgroup(op, k, desc)
	if err != nil {
		return cmd, err
	}

	cmd.Kernel = k.id
	cmd.Grid = desc.Grid
	cmd.GroupSize = size
	cmd.Groups = threadgroupCount(desc.Grid, size)
	cmd.Uniforms = k.snapshotUniforms()

	// Track distinct buffer indices across uniforms and buffers; they
	// share one index namespace.
	indices := make(map[uint32]struct{}, len(cmd.Uniforms)+len(desc.Buffers))
	for _, u := range cmd.Uniforms {
		indices[u.Index] = struct{}{}
	}

	if len(desc.Buffers) > 0 {
		cmd.Buffers = make([]backend.BufferBinding, 0, len(desc.Buffers))
		for _, b := range desc.Buffers {
			if b.Buffer == nil || b.Buffer.id == backend.InvalidID {
				return cmd, newError(ErrInvalidArgument, op, "buffer at index %d is nil or destroyed", b.Index)
			}
			if b.Buffer.ctx != c {
				return cmd, newError(ErrInvalidArgument, op, "buffer at index %d belongs to a different context", b.Index)
			}
			if b.Offset < 0 || b.Size < 0 || b.Offset+b.Size > b.Buffer.size {
				return cmd, newError(ErrInvalidArgument, op, "buffer at index %d: range [%d,%d) exceeds size %d",
					b.Index, b.Offset, b.Offset+b.Size, b.Buffer.size)
			}
			indices[b.Index] = struct{}{}
			// Size is resolved here so heap sub-allocations never leak
			// the rest of their backing buffer into a kernel. A resolved
			// size of zero would read as "whole backing buffer" further
			// down, so empty bindings are rejected outright.
			size := b.Size
			if size == 0 {
				size = b.Buffer.size - b.Offset
			}
			if size <= 0 {
				return cmd, newError(ErrInvalidArgument, op, "buffer at index %d: binding at offset %d is empty",
					b.Index, b.Offset)
			}
			cmd.Buffers = append(cmd.Buffers, backend.BufferBinding{
				Index:  b.Index,
				Buffer: b.Buffer.id,
				Offset: b.Buffer.base + b.Offset,
				Size:   size,
			})
		}
	}

	if len(desc.Textures) > 0 {
		cmd.Textures = make([]backend.TextureBinding, 0, len(desc.Textures))
		for _, t := range desc.Textures {
			if t.Texture == nil || t.Texture.id == backend.InvalidID {
				return cmd, newError(ErrInvalidArgument, op, "texture at index %d is nil or destroyed", t.Index)
			}
			cmd.Textures = append(cmd.Textures, backend.TextureBinding{Index: t.Index, Texture: t.Texture.id})
		}
	}

	if len(desc.Samplers) > 0 {
		cmd.Samplers = make([]backend.SamplerBinding, 0, len(desc.Samplers))
		for _, s := range desc.Samplers {
			if s.Sampler == nil || s.Sampler.id == backend.InvalidID {
				return cmd, newError(ErrInvalidArgument, op, "sampler at index %d is nil or destroyed", s.Index)
			}
			cmd.Samplers = append(cmd.Samplers, backend.SamplerBinding{Index: s.Index, Sampler: s.Sampler.id})
		}
	}

	// Reflection checks. A count of -1 means the backend could not
	// reflect it; the check is skipped then.
	if want := k.info.BufferCount; want >= 0 && len(indices) != want {
		return cmd, newError(ErrDispatchFailed, op, "kernel %q expects %d buffer bindings, got %d",
			k.entry, want, len(indices))
	}
	if want := k.info.TextureCount; want >= 0 && len(cmd.Textures) != want {
		return cmd, newError(ErrDispatchFailed, op, "kernel %q expects %d texture bindings, got %d",
			k.entry, want, len(cmd.Textures))
	}
	if want := k.info.SamplerCount; want >= 0 && len(cmd.Samplers) != want {
		return cmd, newError(ErrDispatchFailed, op, "kernel %q expects %d sampler bindings, got %d",
			k.entry, want, len(cmd.Samplers))
	}

	c.log.Debug("dispatch lowered",
		"kernel", k.entry,
		"grid", cmd.Grid, "group", cmd.GroupSize, "groups", cmd.Groups)
	return cmd, nil
}

// resolveThreadgroup fixes the threadgroup geometry: a required kernel
// size wins, explicit sizes are validated without silent correction, and
// all-zero asks for auto sizing.
func (c *Context) resolveThreadgroup(op string, k *Kernel, desc DispatchDesc) ([3]int, error) {
	tg := desc.Threadgroup
	for i, n := range tg {
		if n < 0 {
			return tg, newError(ErrInvalidArgument, op, "threadgroup dimension %d is negative: %d", i, n)
		}
	}
	explicit := tg[0] > 0 || tg[1] > 0 || tg[2] > 0
	if explicit {
		// Unspecified trailing dimensions default to 1.
		for i := range tg {
			if tg[i] == 0 {
				tg[i] = 1
			}
		}
	}

	if req := k.info.RequiredThreadgroup; req != [3]int{} {
		if explicit && tg != req {
			return tg, newError(ErrInvalidArgument, op, "kernel %q requires threadgroup %v, got %v",
				k.entry, req, tg)
		}
		return req, nil
	}

	if !explicit {
		return autoThreadgroupSize(k.info, desc.Grid), nil
	}

	if max := k.info.MaxThreadsPerThreadgroup; max > 0 && tg[0]*tg[1]*tg[2] > max {
		return tg, newError(ErrInvalidArgument, op, "threadgroup %v exceeds kernel limit of %d threads", tg, max)
	}
	return tg, nil
}
