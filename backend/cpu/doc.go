// Package cpu provides a Pure Go reference backend for compute.
//
// Kernels are ordinary Go functions registered by entry-point name (see
// RegisterKernel); "compiling" a kernel resolves its entry point against
// the registry. Dispatches execute one goroutine per threadgroup, and a
// single queue goroutine per device preserves FIFO submission order.
//
// The backend registers itself under the name "cpu" on import:
//
//	import _ "github.com/gogpu/compute/backend/cpu"
//
// It implements the full capability surface (private storage, shared
// events, heaps, indirect command buffers, function tables) so that every
// code path of the compute package can run without GPU hardware.
package cpu
