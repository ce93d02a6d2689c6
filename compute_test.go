package compute_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
	_ "github.com/gogpu/compute/backend/cpu"
)

// newTestContext opens a cpu-backed context and closes it with the test.
func newTestContext(t *testing.T) *compute.Context {
	t.Helper()
	ctx, err := compute.NewContext(compute.WithBackend("cpu"))
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	return ctx
}

// f32bytes packs float32 values little-endian.
func f32bytes(vals ...float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// f32slice unpacks little-endian float32 values.
func f32slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// ramp returns [0, step, 2*step, ...] of length n.
func ramp(n int, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * step
	}
	return out
}

// newFloatBuffer creates a shared buffer initialized with vals.
func newFloatBuffer(t *testing.T, ctx *compute.Context, vals []float32) *compute.Buffer {
	t.Helper()
	buf, err := ctx.NewBuffer(len(vals)*4, compute.BufferReadWrite, f32bytes(vals...))
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	return buf
}

// readFloats downloads the full buffer content as float32s.
func readFloats(t *testing.T, buf *compute.Buffer, n int) []float32 {
	t.Helper()
	raw := make([]byte, n*4)
	require.NoError(t, buf.Download(raw, 0))
	return f32slice(raw)
}
