// Package backend defines the device abstraction used by compute.
//
// A backend is a concrete implementation of the Device interface: it owns
// the native driver objects (buffers, compiled kernels, command queues) and
// exposes them through opaque uint64 handles. The compute package never
// talks to a driver directly; every public operation is lowered onto a
// Device and its CommandLists.
//
// Backends register themselves via Register(), typically from an init()
// function, and are selected by name or by priority through Default():
//
//	import _ "github.com/gogpu/compute/backend/cpu" // registers "cpu"
//
// Two backends ship with the module: a GPU backend built on gogpu/wgpu
// (backend/wgpu) and a Pure Go reference backend (backend/cpu) that is also
// the test vehicle.
package backend
