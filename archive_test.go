package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
)

// archiveSource stands in for real shader text; the cpu backend resolves
// kernels by entry point and keeps the source as the archive payload.
const archiveSource = "kernel void increment(device float* v) { v[i] += 1; }"

func TestBinaryArchiveRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	require.True(t, ctx.Capabilities().SupportsBinaryArchives)

	k, err := ctx.NewKernelFromSource(archiveSource, "increment")
	require.NoError(t, err)
	defer k.Destroy()

	a, err := ctx.NewBinaryArchive()
	require.NoError(t, err)
	require.NoError(t, a.AddKernel(k))
	assert.Equal(t, 1, a.Len())

	blob := a.Serialize()
	require.NotEmpty(t, blob)

	loaded, err := compute.LoadBinaryArchive(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	k2, err := ctx.NewKernelFromArchive(loaded, "increment")
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, "increment", k2.Entry())

	// The rebuilt kernel dispatches like the original.
	buf := newFloatBuffer(t, ctx, []float32{41})
	require.NoError(t, ctx.Dispatch(compute.DispatchDesc{
		Kernel:  k2,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
		Grid:    [3]int{1, 1, 1},
	}))
	assert.InDelta(t, 42.0, readFloats(t, buf, 1)[0], 1e-6)
}

func TestBinaryArchiveMultipleEntries(t *testing.T) {
	ctx := newTestContext(t)

	a, err := ctx.NewBinaryArchive()
	require.NoError(t, err)

	for _, entry := range []string{"increment", "fill", "vector_add"} {
		k, err := ctx.NewKernelFromSource(archiveSource, entry)
		require.NoError(t, err)
		require.NoError(t, a.AddKernel(k))
		k.Destroy()
	}
	assert.Equal(t, 3, a.Len())

	loaded, err := compute.LoadBinaryArchive(ctx, a.Serialize())
	require.NoError(t, err)
	for _, entry := range []string{"increment", "fill", "vector_add"} {
		k, err := ctx.NewKernelFromArchive(loaded, entry)
		require.NoError(t, err, "entry %q", entry)
		k.Destroy()
	}
}

func TestBinaryArchiveCorruption(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource(archiveSource, "increment")
	require.NoError(t, err)
	defer k.Destroy()

	a, err := ctx.NewBinaryArchive()
	require.NoError(t, err)
	require.NoError(t, a.AddKernel(k))
	blob := a.Serialize()

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[len(bad)/2] ^= 0xFF
		_, err := compute.LoadBinaryArchive(ctx, bad)
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := compute.LoadBinaryArchive(ctx, blob[:8])
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})

	t.Run("not an archive", func(t *testing.T) {
		_, err := compute.LoadBinaryArchive(ctx, make([]byte, 64))
		assert.ErrorIs(t, err, compute.ErrInvalidArgument)
	})
}

func TestBinaryArchiveValidation(t *testing.T) {
	ctx := newTestContext(t)

	a, err := ctx.NewBinaryArchive()
	require.NoError(t, err)

	assert.ErrorIs(t, a.AddKernel(nil), compute.ErrInvalidArgument)

	_, err = ctx.NewKernelFromArchive(a, "missing")
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)

	_, err = ctx.NewKernelFromArchive(nil, "increment")
	assert.ErrorIs(t, err, compute.ErrInvalidArgument)
}
