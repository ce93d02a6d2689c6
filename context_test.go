package compute_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
)

func TestNewContextUnknownBackend(t *testing.T) {
	_, err := compute.NewContext(compute.WithBackend("no-such-backend"))
	assert.ErrorIs(t, err, compute.ErrUnsupportedBackend)
}

func TestContextBasics(t *testing.T) {
	ctx, err := compute.NewContext(
		compute.WithBackend("cpu"),
		compute.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
		compute.WithLabel("basics"),
	)
	require.NoError(t, err)

	assert.Equal(t, "cpu", ctx.Backend())
	assert.NotNil(t, ctx.Logger())
	ctx.SetLabel("renamed")

	caps := ctx.Capabilities()
	assert.Equal(t, 1024, caps.MaxThreadsPerThreadgroup)
	assert.Equal(t, 32, caps.ThreadExecutionWidth)
	assert.NotEmpty(t, caps.DeviceName)

	ctx.Close()
	ctx.Close() // idempotent

	// Operations after Close fail cleanly.
	_, err = ctx.NewBuffer(16, compute.BufferRead, nil)
	assert.ErrorIs(t, err, compute.ErrDeviceFailed)
	_, err = ctx.DeviceInfo(compute.InfoDeviceName)
	assert.ErrorIs(t, err, compute.ErrDeviceFailed)
}

// bareDevice is a minimal backend with every capability flag off, used to
// exercise the feature gates.
type bareDevice struct{}

func (bareDevice) Name() string { return "bare" }

func (bareDevice) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		MaxThreadsPerThreadgroup: 64,
		ThreadExecutionWidth:     1,
		MaxBufferLength:          1 << 20,
		DeviceName:               "Bare Test Device",
	}
}
func (bareDevice) Info(backend.InfoQuery) (backend.InfoValue, error) {
	return backend.InfoValue{}, backend.ErrNotSupported
}
func (bareDevice) CreateBuffer(backend.BufferDescriptor, []byte) (backend.BufferID, error) {
	return 1, nil
}
func (bareDevice) DestroyBuffer(backend.BufferID) {}
func (bareDevice) WriteBuffer(backend.BufferID, int, []byte) error { return nil }
func (bareDevice) ReadBuffer(backend.BufferID, int, []byte) error { return nil }
func (bareDevice) CopyBuffer(backend.BufferID, int, backend.BufferID, int, int) error {
	return nil
}
func (bareDevice) CreateTexture(backend.TextureDescriptor, []byte) (backend.TextureID, error) {
	return 1, nil
}
func (bareDevice) DestroyTexture(backend.TextureID) {}
func (bareDevice) WriteTexture(backend.TextureID, []byte) error { return nil }
func (bareDevice) ReadTexture(backend.TextureID, []byte) error { return nil }
func (bareDevice) CreateSampler(backend.SamplerDescriptor) (backend.SamplerID, error) {
	return 1, nil
}
func (bareDevice) DestroySampler(backend.SamplerID) {}
func (bareDevice) CompileKernel(backend.KernelDescriptor) (backend.KernelID, backend.KernelInfo, string, error) {
	return 0, backend.KernelInfo{}, "", backend.ErrNotSupported
}
func (bareDevice) DestroyKernel(backend.KernelID) {}
func (bareDevice) NewCommandList(string) (backend.CommandList, error) {
	return nil, backend.ErrNotSupported
}
func (bareDevice) CreateEvent() (backend.EventID, error) { return 0, backend.ErrNotSupported }
func (bareDevice) SignalEvent(backend.EventID, uint64) error {
	return backend.ErrNotSupported
}
func (bareDevice) EventValue(backend.EventID) (uint64, error) {
	return 0, backend.ErrNotSupported
}
func (bareDevice) WaitEvent(backend.EventID, uint64, time.Duration) (bool, error) {
	return false, backend.ErrNotSupported
}
func (bareDevice) DestroyEvent(backend.EventID) {}
func (bareDevice) Close() {}

func TestCapabilityGates(t *testing.T) {
	backend.Register("bare", func() (backend.Device, error) { return bareDevice{}, nil })
	t.Cleanup(func() { backend.Unregister("bare") })

	ctx, err := compute.NewContext(compute.WithBackend("bare"))
	require.NoError(t, err)
	defer ctx.Close()

	_, err = ctx.NewSharedEvent()
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	_, err = ctx.NewHeap(1024)
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	_, err = ctx.NewBinaryArchive()
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	_, err = ctx.NewIndirectCommandBuffer(4)
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	_, err = ctx.NewFunctionTable(4)
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	_, err = ctx.NewBufferEx(16, compute.BufferRead, compute.UsageGPUOnly, nil)
	assert.ErrorIs(t, err, compute.ErrNotSupported)

	// Ungated resources still work.
	buf, err := ctx.NewBuffer(16, compute.BufferRead, nil)
	require.NoError(t, err)
	buf.Destroy()
}
