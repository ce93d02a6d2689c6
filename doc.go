// Package compute orchestrates GPU compute dispatch from the host side.
//
// A Context owns one backend device and all resources created from it:
// buffers, textures, samplers and compiled kernels. Kernels carry
// persistent uniform bytes; dispatches are described by a DispatchDesc and
// flow through a single encoder core whether they run synchronously,
// asynchronously behind a Fence, or deferred inside a batch or indirect
// command buffer.
//
// Backends register themselves on import:
//
//	import (
//	    "github.com/gogpu/compute"
//	    _ "github.com/gogpu/compute/backend/cpu"
//	)
//
//	ctx, err := compute.NewContext()
//	if err != nil { ... }
//	defer ctx.Close()
//
// A Context and the resources created from it are driven from one
// goroutine at a time. Fence.Wait, SharedEvent.Wait and fence completion
// callbacks are the exceptions and may be used from any goroutine.
package compute
