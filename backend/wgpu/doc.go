// Package wgpu provides a GPU backend for compute on top of the gogpu/wgpu
// hardware abstraction layer.
//
// The package does not open an adapter itself: the host application owns
// the hal.Device and hal.Queue (usually shared with a renderer) and injects
// them once with Configure. After that the backend registers usable under
// the name "wgpu":
//
//	import (
//	    computewgpu "github.com/gogpu/compute/backend/wgpu"
//	    _ "github.com/gogpu/compute/backend/wgpu"
//	)
//
//	computewgpu.Configure(halDevice, halQueue, nil)
//
// Kernels are WGSL compute shaders compiled to SPIR-V through gogpu/naga.
// The WGSL @workgroup_size must match the threadgroup size the dispatch
// resolves to; the backend cannot reflect it and reports resource counts
// as unknown.
package wgpu
