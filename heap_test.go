package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
)

func TestHeapSubAllocation(t *testing.T) {
	ctx := newTestContext(t)
	require.True(t, ctx.Capabilities().SupportsHeaps)

	heap, err := ctx.NewHeap(4096)
	require.NoError(t, err)
	defer heap.Destroy()

	used, capacity := heap.Usage()
	assert.Zero(t, used)
	assert.Equal(t, 4096, capacity)

	a, err := heap.NewBuffer(100, compute.BufferReadWrite)
	require.NoError(t, err)
	b, err := heap.NewBuffer(100, compute.BufferReadWrite)
	require.NoError(t, err)

	// Placements are 256-byte aligned, so each 100-byte request costs 256.
	used, _ = heap.Usage()
	assert.Equal(t, 512, used)

	// Sub-buffers map independently.
	require.NoError(t, a.Upload(f32bytes(1, 2), 0))
	require.NoError(t, b.Upload(f32bytes(9, 8), 0))

	got := make([]byte, 8)
	require.NoError(t, a.Download(got, 0))
	assert.Equal(t, []float32{1, 2}, f32slice(got))
	require.NoError(t, b.Download(got, 0))
	assert.Equal(t, []float32{9, 8}, f32slice(got))
}

func TestHeapExhaustionAndReuse(t *testing.T) {
	ctx := newTestContext(t)

	heap, err := ctx.NewHeap(512)
	require.NoError(t, err)
	defer heap.Destroy()

	a, err := heap.NewBuffer(256, compute.BufferReadWrite)
	require.NoError(t, err)
	_, err = heap.NewBuffer(256, compute.BufferReadWrite)
	require.NoError(t, err)

	_, err = heap.NewBuffer(1, compute.BufferReadWrite)
	assert.ErrorIs(t, err, compute.ErrInvalidArgument, "the heap is full")

	// Destroying a sub-buffer returns its range.
	a.Destroy()
	used, _ := heap.Usage()
	assert.Equal(t, 256, used)

	c, err := heap.NewBuffer(200, compute.BufferReadWrite)
	require.NoError(t, err)
	require.NoError(t, c.Upload(f32bytes(7), 0))
}

func TestHeapFreeListMerging(t *testing.T) {
	ctx := newTestContext(t)

	heap, err := ctx.NewHeap(1024)
	require.NoError(t, err)
	defer heap.Destroy()

	bufs := make([]*compute.Buffer, 4)
	for i := range bufs {
		b, err := heap.NewBuffer(256, compute.BufferReadWrite)
		require.NoError(t, err)
		bufs[i] = b
	}

	// Free out of order; adjacent ranges coalesce so a full-size request
	// fits again afterwards.
	bufs[1].Destroy()
	bufs[3].Destroy()
	bufs[0].Destroy()
	bufs[2].Destroy()

	used, _ := heap.Usage()
	assert.Zero(t, used)

	big, err := heap.NewBuffer(1024, compute.BufferReadWrite)
	require.NoError(t, err)
	require.NoError(t, big.Upload(f32bytes(1), 1020))
}

func TestHeapBuffersInDispatch(t *testing.T) {
	ctx := newTestContext(t)

	const n = 16
	heap, err := ctx.NewHeap(4096)
	require.NoError(t, err)
	defer heap.Destroy()

	newHeapFloats := func(vals []float32) *compute.Buffer {
		t.Helper()
		b, err := heap.NewBuffer(len(vals)*4, compute.BufferReadWrite)
		require.NoError(t, err)
		require.NoError(t, b.Upload(f32bytes(vals...), 0))
		return b
	}

	a := newHeapFloats(ramp(n, 1))
	b := newHeapFloats(ramp(n, 1))
	c := newHeapFloats(make([]float32, n))

	k, err := ctx.NewKernelFromSource("", "vector_add")
	require.NoError(t, err)
	defer k.Destroy()

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
	assert.InDelta(t, 14.0, readFloats(t, c, n)[7], 1e-6)
}

func TestHeapZeroSizeBindingRejected(t *testing.T) {
	ctx := newTestContext(t)

	heap, err := ctx.NewHeap(1024)
	require.NoError(t, err)
	defer heap.Destroy()

	a, err := heap.NewBuffer(4, compute.BufferReadWrite)
	require.NoError(t, err)
	b, err := heap.NewBuffer(4, compute.BufferReadWrite)
	require.NoError(t, err)
	require.NoError(t, a.Upload(f32bytes(0), 0))
	require.NoError(t, b.Upload(f32bytes(0), 0))

	k, err := ctx.NewKernelFromSource("", "increment")
	require.NoError(t, err)
	defer k.Destroy()

	// A binding at the end of a with size 0 resolves to zero bytes. It
	// must be rejected rather than widened to the rest of the backing
	// buffer, which would alias a's heap neighbors.
	err = ctx.Dispatch(compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: a, Offset: a.Size(), Size: 0}},
		Grid:    [3]int{1, 1, 1},
	})
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	assert.Zero(t, readFloats(t, b, 1)[0], "neighboring sub-buffer was mutated")
}

func TestHeapValidation(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.NewHeap(0)
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)

	heap, err := ctx.NewHeap(256)
	require.NoError(t, err)

	_, err = heap.NewBuffer(0, compute.BufferRead)
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)

	heap.Destroy()
	heap.Destroy() // idempotent
	_, err = heap.NewBuffer(64, compute.BufferRead)
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)
}
