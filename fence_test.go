package compute_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
)

func TestFenceCapturesExecutionError(t *testing.T) {
	ctx := newTestContext(t)

	k, err := ctx.NewKernelFromSource("", "trap")
	require.NoError(t, err)
	defer k.Destroy()

	fence, err := ctx.DispatchAsync(compute.DispatchDesc{
		Kernel: k,
		Grid:   [3]int{1, 1, 1},
	})
	require.NoError(t, err, "submission succeeds; the failure is at execution time")
	require.NotNil(t, fence)

	err = fence.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, compute.ErrDispatchFailed)
	assert.True(t, fence.IsComplete())
	assert.Contains(t, fence.ErrorMessage(), "trap")
	assert.Error(t, fence.Err())
}

func TestFenceIsCompletePolling(t *testing.T) {
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

	// Err is nil while pending, regardless of outcome.
	_ = fence.Err()

	deadline := time.Now().Add(5 * time.Second)
	for !fence.IsComplete() {
		if time.Now().After(deadline) {
			t.Fatal("fence never completed")
		}
		time.Sleep(time.Millisecond)
	}
	assert.NoError(t, fence.Err())
}

func TestFenceDestroyDetaches(t *testing.T) {
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

	// Destroying the fence does not cancel the work.
	fence.Destroy()
	fence.Destroy() // idempotent
	assert.True(t, fence.IsComplete())
	assert.NoError(t, fence.Wait())

	// The dispatch still ran; poll through a fresh submission to be sure
	// the queue drained.
	require.NoError(t, ctx.Dispatch(compute.DispatchDesc{
		Kernel:  k,
		Buffers: []compute.BufferBinding{{Index: 0, Buffer: buf}},
		Grid:    [3]int{1, 1, 1},
	}))
	assert.InDelta(t, 2.0, readFloats(t, buf, 1)[0], 1e-6)
}
