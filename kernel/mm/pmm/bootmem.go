package pmm

import (
	"zados/kernel"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
)

// maxRecycledFrames bounds the number of freed frames the boot allocator
// remembers. Frames freed while the stack is full are leaked.
const maxRecycledFrames = 64

var (
	// ErrOutOfMemory is returned when the allocator cannot satisfy a
	// request.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errInvalidCount = &kernel.Error{Module: "pmm", Message: "frame count must be greater than zero"}
	errDoubleFree   = &kernel.Error{Module: "pmm", Message: "frame is not allocated"}
	errFreeReserved = &kernel.Error{Module: "pmm", Message: "frame belongs to a reserved physical range"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator uses the boot profile to detect free memory and returns the
// next block of free frames that does not overlap any reserved physical
// range. Allocations are tracked via an internal cursor that points past the
// last allocated frame. Freed single frames are kept in a small recycle stack
// and are handed out again before the cursor advances.
type BootMemAllocator struct {
	profile *bootinfo.Profile

	// allocCount tracks the number of frames currently handed out.
	allocCount uint64

	// nextFrame is the first frame that has never been allocated.
	nextFrame mm.Frame

	// endFrame is the first frame past the end of physical memory.
	endFrame mm.Frame

	recycled     [maxRecycledFrames]mm.Frame
	recycleCount int
}

// Init sets up the allocator internal state using the supplied profile.
func (alloc *BootMemAllocator) Init(profile *bootinfo.Profile) {
	alloc.profile = profile
	alloc.allocCount = 0
	alloc.nextFrame = 0
	alloc.endFrame = mm.Frame(profile.MemorySize >> mm.PageShift)
	alloc.recycleCount = 0
}

// AllocFrames reserves count physically contiguous frames and returns the
// first one. AllocFrames returns ErrOutOfMemory if no suitable block exists.
func (alloc *BootMemAllocator) AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errInvalidCount
	}

	if count == 1 && alloc.recycleCount > 0 {
		alloc.recycleCount--
		alloc.allocCount++
		return alloc.recycled[alloc.recycleCount], nil
	}

	for start := alloc.nextFrame; start+mm.Frame(count) <= alloc.endFrame; {
		block := bootinfo.Range{
			Start: start.Address(),
			End:   (start + mm.Frame(count)).Address(),
		}

		// Skip past any reserved range overlapping the candidate block.
		var clashEnd uintptr
		alloc.profile.VisitReservedPhysical(func(r bootinfo.Range) bool {
			if block.Overlaps(r) {
				clashEnd = r.End
				return false
			}
			return true
		})

		if clashEnd != 0 {
			start = mm.FrameFromAddress(mm.PageRoundUp(clashEnd))
			continue
		}

		alloc.nextFrame = start + mm.Frame(count)
		alloc.allocCount += uint64(count)
		return start, nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame returns a single frame to the allocator.
func (alloc *BootMemAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if frame >= alloc.nextFrame || alloc.allocCount == 0 {
		return errDoubleFree
	}

	// The cursor skips reserved ranges so frames below it may never have
	// been handed out.
	if alloc.profile.IsReservedPhysical(frame.Address()) {
		return errFreeReserved
	}

	for i := 0; i < alloc.recycleCount; i++ {
		if alloc.recycled[i] == frame {
			return errDoubleFree
		}
	}

	alloc.allocCount--
	if alloc.recycleCount < maxRecycledFrames {
		alloc.recycled[alloc.recycleCount] = frame
		alloc.recycleCount++
	}

	return nil
}

// AllocatedFrames returns the number of frames currently handed out.
func (alloc *BootMemAllocator) AllocatedFrames() uint64 {
	return alloc.allocCount
}

// printMemoryMap prints the system's memory map as described by the boot
// profile.
func (alloc *BootMemAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")

	var reserved mm.Size
	alloc.profile.VisitReservedPhysical(func(r bootinfo.Range) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: reserved\n", r.Start, r.End, uint64(r.Size()))
		reserved += mm.Size(r.Size())
		return true
	})

	total := mm.Size(alloc.profile.MemorySize)
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64((total-reserved)/mm.Kb))
}
