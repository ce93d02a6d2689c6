package cpu

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute/backend"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice()
	t.Cleanup(d.Close)
	return d
}

func TestDeviceIdentity(t *testing.T) {
	d := newTestDevice(t)

	assert.Equal(t, "cpu", d.Name())

	caps := d.Capabilities()
	assert.True(t, caps.SupportsGPUOnlyBuffers)
	assert.True(t, caps.SupportsSharedEvents)
	assert.True(t, caps.SupportsFunctionTables)
	assert.Equal(t, maxThreadsPerThreadgroup, caps.MaxThreadsPerThreadgroup)
	assert.Contains(t, caps.DeviceName, "Pure Go CPU")

	v, err := d.Info(backend.InfoName)
	require.NoError(t, err)
	assert.Equal(t, caps.DeviceName, v.Str)

	_, err = d.Info(backend.InfoQuery(-1))
	assert.ErrorIs(t, err, backend.ErrNotSupported)
}

func TestBufferStorageRules(t *testing.T) {
	d := newTestDevice(t)

	shared, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	priv, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16, Storage: backend.StoragePrivate},
		[]byte{9, 9, 9, 9})
	require.NoError(t, err)

	// Private buffers refuse the direct map both ways.
	assert.ErrorIs(t, d.WriteBuffer(priv, 0, []byte{1}), backend.ErrPrivateStorage)
	assert.ErrorIs(t, d.ReadBuffer(priv, 0, make([]byte, 4)), backend.ErrPrivateStorage)

	// The transfer copy path reaches private content in both directions.
	require.NoError(t, d.CopyBuffer(priv, 0, shared, 4, 4))
	got := make([]byte, 8)
	require.NoError(t, d.ReadBuffer(shared, 0, got))
	assert.Equal(t, []byte{1, 2, 3, 4, 9, 9, 9, 9}, got)

	require.NoError(t, d.CopyBuffer(shared, 0, priv, 8, 4))
}

func TestBufferBounds(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.CreateBuffer(backend.BufferDescriptor{Size: 0}, nil)
	assert.Error(t, err)
	_, err = d.CreateBuffer(backend.BufferDescriptor{Size: 4}, make([]byte, 8))
	assert.ErrorIs(t, err, backend.ErrOutOfRange)

	id, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, d.WriteBuffer(id, 12, make([]byte, 8)), backend.ErrOutOfRange)
	assert.ErrorIs(t, d.ReadBuffer(id, -1, make([]byte, 4)), backend.ErrOutOfRange)
	assert.ErrorIs(t, d.CopyBuffer(id, 0, id, 8, 12), backend.ErrOutOfRange)

	d.DestroyBuffer(id)
	assert.ErrorIs(t, d.WriteBuffer(id, 0, []byte{1}), backend.ErrInvalidHandle)
	assert.ErrorIs(t, d.ReadBuffer(id, 0, make([]byte, 1)), backend.ErrInvalidHandle)
}

func TestCompileUnknownEntry(t *testing.T) {
	d := newTestDevice(t)

	_, _, log, err := d.CompileKernel(backend.KernelDescriptor{Entry: "not_registered"})
	assert.ErrorIs(t, err, backend.ErrCompile)
	assert.NotEmpty(t, log)

	_, _, _, err = d.CompileKernel(backend.KernelDescriptor{})
	assert.Error(t, err, "entry point is required")
}

func TestCommandListDispatch(t *testing.T) {
	d := newTestDevice(t)

	kid, info, _, err := d.CompileKernel(backend.KernelDescriptor{Entry: "vector_add"})
	require.NoError(t, err)
	assert.Equal(t, 3, info.BufferCount)
	assert.Equal(t, maxThreadsPerThreadgroup, info.MaxThreadsPerThreadgroup)

	ones := make([]byte, 4*4)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(ones[i*4:], math.Float32bits(1))
	}
	a, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16}, ones)
	require.NoError(t, err)
	b, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16}, ones)
	require.NoError(t, err)
	c, err := d.CreateBuffer(backend.BufferDescriptor{Size: 16}, nil)
	require.NoError(t, err)

	list, err := d.NewCommandList("test")
	require.NoError(t, err)
	list.SetLabel("test")
	require.NoError(t, list.Encode(backend.DispatchCommand{
		Kernel: kid,
		Buffers: []backend.BufferBinding{
			{Index: 0, Buffer: a, Size: 16},
			{Index: 1, Buffer: b, Size: 16},
			{Index: 2, Buffer: c, Size: 16},
		},
		Grid:      [3]int{4, 1, 1},
		GroupSize: [3]int{4, 1, 1},
		Groups:    [3]int{1, 1, 1},
	}))

	comp, err := list.Submit()
	require.NoError(t, err)
	<-comp.Done()
	require.NoError(t, comp.Err())

	got := make([]byte, 16)
	require.NoError(t, d.ReadBuffer(c, 0, got))
	assert.Equal(t, []byte{0, 0, 0, 0x40}, got[:4]) // 2.0f
}

func TestSubmissionErrorAbortsRest(t *testing.T) {
	d := newTestDevice(t)

	trap, _, _, err := d.CompileKernel(backend.KernelDescriptor{Entry: "trap"})
	require.NoError(t, err)
	inc, _, _, err := d.CompileKernel(backend.KernelDescriptor{Entry: "increment"})
	require.NoError(t, err)

	buf, err := d.CreateBuffer(backend.BufferDescriptor{Size: 4}, nil)
	require.NoError(t, err)

	list, err := d.NewCommandList("")
	require.NoError(t, err)
	require.NoError(t, list.Encode(backend.DispatchCommand{
		Kernel:    trap,
		Grid:      [3]int{1, 1, 1},
		GroupSize: [3]int{1, 1, 1},
		Groups:    [3]int{1, 1, 1},
	}))
	require.NoError(t, list.Encode(backend.DispatchCommand{
		Kernel:    inc,
		Buffers:   []backend.BufferBinding{{Index: 0, Buffer: buf, Size: 4}},
		Grid:      [3]int{1, 1, 1},
		GroupSize: [3]int{1, 1, 1},
		Groups:    [3]int{1, 1, 1},
	}))

	comp, err := list.Submit()
	require.NoError(t, err)
	<-comp.Done()
	require.Error(t, comp.Err())

	// The increment after the trap never ran.
	got := make([]byte, 4)
	require.NoError(t, d.ReadBuffer(buf, 0, got))
	assert.Equal(t, []byte{0, 0, 0, 0}, got)
}

func TestEvents(t *testing.T) {
	d := newTestDevice(t)

	ev, err := d.CreateEvent()
	require.NoError(t, err)

	v, err := d.EventValue(ev)
	require.NoError(t, err)
	assert.Zero(t, v)

	ok, err := d.WaitEvent(ev, 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.SignalEvent(ev, 3))
	ok, err = d.WaitEvent(ev, 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Lower signals never move the counter backwards.
	require.NoError(t, d.SignalEvent(ev, 1))
	v, err = d.EventValue(ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	d.DestroyEvent(ev)
	_, err = d.EventValue(ev)
	assert.ErrorIs(t, err, backend.ErrInvalidHandle)
}
