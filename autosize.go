package compute

import "github.com/gogpu/compute/backend"

// autoThreadgroupSize picks a threadgroup size for a grid when the caller
// left it to the library. The choice is deterministic for a given
// (kernel info, grid) pair.
//
// 1-D grids get the largest divisor of the kernel's thread budget that is
// a multiple of the execution width and does not exceed the total work;
// when no such divisor exists (tiny grids), the largest divisor <= total
// is used, with a floor of 1. 2-D grids start from a 16x16 tile and halve
// the larger side until the tile fits the thread budget. 3-D grids use
// the 2-D rule with depth 1.
func autoThreadgroupSize(info backend.KernelInfo, grid [3]int) [3]int {
	if grid[1] == 1 && grid[2] == 1 {
		return [3]int{auto1D(info, grid[0]), 1, 1}
	}

	w, h := 16, 16
	max := info.MaxThreadsPerThreadgroup
	if max < 1 {
		max = 1
	}
	for w*h > max {
		if w >= h {
			w /= 2
		} else {
			h /= 2
		}
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return [3]int{w, h, 1}
}

func auto1D(info backend.KernelInfo, total int) int {
	max := info.MaxThreadsPerThreadgroup
	if max < 1 {
		max = 1
	}
	width := info.ThreadExecutionWidth
	if width < 1 {
		width = 1
	}

	// Largest divisor of the budget that is SIMD-aligned and covered by
	// the work.
	for size := max; size >= width; size-- {
		if max%size == 0 && size%width == 0 && size <= total {
			return size
		}
	}
	// Tiny grids: largest divisor of the budget that still fits.
	for size := min(max, total); size > 1; size-- {
		if max%size == 0 {
			return size
		}
	}
	return 1
}

// threadgroupCount returns ceil(grid/size) per dimension.
func threadgroupCount(grid, size [3]int) [3]int {
	var groups [3]int
	for i := 0; i < 3; i++ {
		groups[i] = (grid[i] + size[i] - 1) / size[i]
	}
	return groups
}
