package compute_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
)

func TestDispatchVectorAdd(t *testing.T) {
	ctx := newTestContext(t)

	const n = 64
	k, err := ctx.NewKernelFromSource("", "vector_add")
	require.NoError(t, err)
	defer k.Destroy()

	a := newFloatBuffer(t, ctx, ramp(n, 1))
	b := newFloatBuffer(t, ctx, ramp(n, 2))
	c := newFloatBuffer(t, ctx, make([]float32, n))

	err = ctx.Dispatch(compute.DispatchDesc{
		Kernel: k,
		Buffers: []compute.BufferBinding{
			{Index: 0, Buffer: a},
			{Index: 1, Buffer: b},
			{Index: 2, Buffer: c},
		},
		Grid: [3]int{n, 1, 1},
	})
	require.NoError(t, err)

	got := readFloats(t, c, n)
	assert.InDelta(t, 30.0, got[10], 1e-6)
	for i := 0; i < n; i++ {
		assert.InDelta(t, float32(i)*3, got[i], 1e-6)
	}
}

func TestDispatchReduction(t *testing.T) {
	ctx := newTestContext(t)

	const n = 1024
	const perGroup = 256
	k, err := ctx.NewKernelFromSource("", "reduce_sum_partial")
	require.NoError(t, err)
	defer k.Destroy()

	ones := make([]float32, n)
	for i := range ones {
		ones[i] = 1
	}
	in := newFloatBuffer(t, ctx, ones)
	partials := newFloatBuffer(t, ctx, make([]float32, n/perGroup))

	err = ctx.Dispatch(compute.DispatchDesc{
		Kernel: k,
		Buffers: []compute.BufferBinding{
			{Index: 0, Buffer: in},
			{Index: 1, Buffer: partials},
		},
		Grid:        [3]int{n, 1, 1},
		Threadgroup: [3]int{perGroup, 1, 1},
	})
	require.NoError(t, err)

	var sum float32
	for _, p := range readFloats(t, partials, n/perGroup) {
		sum += p
	}
	assert.InDelta(t, float32(n), sum, 1e-3)
}

func TestDispatchAsyncFence(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "increment")
	require.NoError(t, err)
	defer k.Destroy()

	buf := newFloatBuffer(t, ctx, []float32{0})

	fence, err := ctx.DispatchAsync(compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
		Grid:    [3]int{1, 1, 1},
	})
	require.NoError(t, err)
	require.NotNil(t, fence)

	require.NoError(t, fence.Wait())
	assert.True(t, fence.IsComplete())
	assert.Empty(t, fence.ErrorMessage())
	assert.InDelta(t, 1.0, readFloats(t, buf, 1)[0], 1e-6)
}

func TestDispatch1D(t *testing.T) {
	ctx := newTestContext(t)

	const n = 100
	k, err := ctx.NewKernelFromSource("", "fill")
	require.NoError(t, err)
	defer k.Destroy()
	require.NoError(t, k.SetBytes(1, f32bytes(7)))

	buf := newFloatBuffer(t, ctx, make([]float32, n))

	err = ctx.Dispatch1D(compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
	}, n, 0)
	require.NoError(t, err)

	for _, v := range readFloats(t, buf, n) {
		assert.InDelta(t, 7.0, v, 1e-6)
	}
}

func TestDispatchValidation(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "vector_add")
	require.NoError(t, err)
	defer k.Destroy()

	buf := newFloatBuffer(t, ctx, make([]float32, 4))

	t.Run("nil kernel", func(t *testing.T) {
		err := ctx.Dispatch(compute.DispatchDesc{Grid: [3]int{1, 1, 1}})
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("zero grid", func(t *testing.T) {
		err := ctx.Dispatch(compute.DispatchDesc{Kernel: k, Grid: [3]int{4, 0, 1}})
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("binding count mismatch", func(t *testing.T) {
		err := ctx.Dispatch(compute.DispatchDesc{
			Kernel:  k,
			Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
			Grid:    [3]int{4, 1, 1},
		})
		assert.ErrorIs(t, err, compute.ErrDispatchFailed)
	})

	t.Run("oversized threadgroup", func(t *testing.T) {
		err := ctx.Dispatch(compute.DispatchDesc{
			Kernel: k,
			Buffers: []compute.BufferBinding{
				{Index: 0, Buffer: buf}, {Index: 1, Buffer: buf}, {Index: 2, Buffer: buf},
			},
			Grid:        [3]int{4, 1, 1},
			Threadgroup: [3]int{2048, 1, 1},
		})
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("destroyed buffer", func(t *testing.T) {
		dead, err := ctx.NewBuffer(16, compute.BufferRead, nil)
		require.NoError(t, err)
		dead.Destroy()
		err = ctx.Dispatch(compute.DispatchDesc{
			Kernel: k,
			Buffers: []compute.BufferBinding{
				{Index: 0, Buffer: dead}, {Index: 1, Buffer: buf}, {Index: 2, Buffer: buf},
			},
			Grid: [3]int{4, 1, 1},
		})
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("buffer range", func(t *testing.T) {
		err := ctx.Dispatch(compute.DispatchDesc{
			Kernel: k,
			Buffers: []compute.BufferBinding{
				{Index: 0, Buffer: buf, Offset: 12, Size: 8},
				{Index: 1, Buffer: buf}, {Index: 2, Buffer: buf},
			},
			Grid: [3]int{4, 1, 1},
		})
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})
}

func TestDispatchErrorClassification(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "trap")
	require.NoError(t, err)
	defer k.Destroy()

	err = ctx.Dispatch(compute.DispatchDesc{Kernel: k, Grid: [3]int{1, 1, 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, compute.ErrDispatchFailed)

	var cerr *compute.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "Dispatch", cerr.Op())
}
