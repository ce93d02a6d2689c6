package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
)

func TestBatchThreeIncrements(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "increment")
	require.NoError(t, err)
	defer k.Destroy()

	buf := newFloatBuffer(t, ctx, []float32{0})
	desc := compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
		Grid:    [3]int{1, 1, 1},
	}

	require.NoError(t, ctx.BeginBatch())
	assert.True(t, ctx.IsBatching())
	for i := 0; i < 3; i++ {
		require.NoError(t, ctx.Dispatch(desc))
	}

	fence, err := ctx.EndBatch()
	require.NoError(t, err)
	require.NotNil(t, fence)
	assert.False(t, ctx.IsBatching())

	require.NoError(t, fence.Wait())
	assert.InDelta(t, 3.0, readFloats(t, buf, 1)[0], 1e-6)
}

func TestBatchDoubleBegin(t *testing.T) {
	ctx := newTestContext(t)

	require.NoError(t, ctx.BeginBatch())
	err := ctx.BeginBatch()
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)

	// The first session is untouched and still usable.
	assert.True(t, ctx.IsBatching())
	fence, err := ctx.EndBatch()
	require.NoError(t, err)
	require.NoError(t, fence.Wait())
}

func TestBatchEndWithoutBegin(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.EndBatch()
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)
}

func TestBatchAsyncReturnsNilFence(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "increment")
	require.NoError(t, err)
	defer k.Destroy()

	buf := newFloatBuffer(t, ctx, []float32{0})
	desc := compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
		Grid:    [3]int{1, 1, 1},
	}

	require.NoError(t, ctx.BeginBatch())
	fence, err := ctx.DispatchAsync(desc)
	require.NoError(t, err)
	assert.Nil(t, fence, "dispatch recorded into a batch has no own fence")

	batchFence, err := ctx.EndBatch()
	require.NoError(t, err)
	require.NoError(t, batchFence.Wait())
	assert.InDelta(t, 1.0, readFloats(t, buf, 1)[0], 1e-6)
}

func TestBatchValidationStillImmediate(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "vector_add")
	require.NoError(t, err)
	defer k.Destroy()

	require.NoError(t, ctx.BeginBatch())

	// Bad descriptors are rejected while recording, before submission.
	err = ctx.Dispatch(compute.DispatchDesc{Kernel: k, Grid: [3]int{0, 1, 1}})
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)

	fence, err := ctx.EndBatch()
	require.NoError(t, err)
	require.NoError(t, fence.Wait())
}
