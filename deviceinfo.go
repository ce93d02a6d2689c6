package compute

import "github.com/gogpu/compute/backend"

// InfoQuery enumerates device info queries for Context.DeviceInfo.
type InfoQuery = backend.InfoQuery

// Device info queries.
const (
	// InfoDeviceName queries the human-readable device name.
	InfoDeviceName = backend.InfoName

	// InfoMaxThreadsPerThreadgroup queries the threadgroup thread budget.
	InfoMaxThreadsPerThreadgroup = backend.InfoMaxThreadsPerThreadgroup

	// InfoThreadExecutionWidth queries the SIMD execution width.
	InfoThreadExecutionWidth = backend.InfoThreadExecutionWidth

	// InfoMaxBufferLength queries the largest creatable buffer in bytes.
	InfoMaxBufferLength = backend.InfoMaxBufferLength

	// InfoSupportsGPUOnlyBuffers queries private storage support.
	InfoSupportsGPUOnlyBuffers = backend.InfoSupportsGPUOnlyBuffers

	// InfoMaxComputeUnits queries the number of compute units.
	InfoMaxComputeUnits = backend.InfoMaxComputeUnits
)

// DeviceInfo is the typed result of a device info query. Exactly one of
// the value fields is meaningful, selected by the query; Size is the byte
// size of that value.
type DeviceInfo struct {
	Str  string
	Uint uint64
	Bool bool

	// Size is the byte size of the value: len(Str) for string queries,
	// 8 for integer queries, 1 for boolean queries.
	Size int
}

// DeviceInfo answers a device info query. Unknown queries return
// ErrNotSupported.
func (c *Context) DeviceInfo(q InfoQuery) (DeviceInfo, error) {
	if err := c.checkOpen("DeviceInfo"); err != nil {
		return DeviceInfo{}, err
	}
	v, err := c.dev.Info(q)
	if err != nil {
		return DeviceInfo{}, newError(ErrNotSupported, "DeviceInfo", "query %d: %v", q, err)
	}

	info := DeviceInfo{Str: v.Str, Uint: v.Uint, Bool: v.Bool}
	switch q {
	case backend.InfoName:
		info.Size = len(v.Str)
	case backend.InfoSupportsGPUOnlyBuffers:
		info.Size = 1
	default:
		info.Size = 8
	}
	return info, nil
}
