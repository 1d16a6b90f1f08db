// Package physmem provides a sparse model of physical memory for kernels
// that run inside a hosted process. Frames are materialised (zero filled) on
// first access and indexed by frame number so that page table walks can
// resolve physical addresses into table contents without pointer casts.
package physmem

import (
	"unsafe"

	"github.com/google/btree"

	"zados/kernel"
	"zados/kernel/mm"
)

// WordsPerFrame is the number of 64-bit words in a frame.
const WordsPerFrame = mm.PageSize >> mm.PointerShift

// btreeDegree is the degree of the frame index.
const btreeDegree = 16

var (
	// ErrOutOfBounds is returned for addresses past the end of the arena.
	ErrOutOfBounds = &kernel.Error{Module: "physmem", Message: "physical address is outside the arena"}

	// ErrMisaligned is returned by Words for addresses that are not frame
	// aligned.
	ErrMisaligned = &kernel.Error{Module: "physmem", Message: "physical address is not frame aligned"}
)

// frame holds the contents of one materialised physical frame.
type frame struct {
	num   mm.Frame
	words [WordsPerFrame]uint64
}

func frameLess(a, b *frame) bool {
	return a.num < b.num
}

// Arena models size bytes of physical memory starting at address 0.
type Arena struct {
	size   uintptr
	frames *btree.BTreeG[*frame]
}

// NewArena creates an arena covering [0, size). Size is rounded up to a
// multiple of the page size.
func NewArena(size uintptr) *Arena {
	return &Arena{
		size:   mm.PageRoundUp(size),
		frames: btree.NewG[*frame](btreeDegree, frameLess),
	}
}

// Len returns the size of the arena in bytes.
func (a *Arena) Len() uintptr {
	return a.size
}

// FrameCount returns the number of frames that have been materialised.
func (a *Arena) FrameCount() int {
	return a.frames.Len()
}

// lookup returns the frame containing addr, creating it if needed.
func (a *Arena) lookup(addr uintptr) (*frame, *kernel.Error) {
	if addr >= a.size {
		return nil, ErrOutOfBounds
	}

	key := &frame{num: mm.FrameFromAddress(addr)}
	if f, found := a.frames.Get(key); found {
		return f, nil
	}

	a.frames.ReplaceOrInsert(key)
	return key, nil
}

// Words returns the 512-word view of the frame starting at physAddr. The
// returned array aliases the arena contents.
func (a *Arena) Words(physAddr uintptr) (*[WordsPerFrame]uint64, *kernel.Error) {
	if physAddr&(mm.PageSize-1) != 0 {
		return nil, ErrMisaligned
	}

	f, err := a.lookup(physAddr)
	if err != nil {
		return nil, err
	}

	return &f.words, nil
}

// bytesOf returns the byte view of a frame.
func bytesOf(f *frame) *[mm.PageSize]byte {
	return (*[mm.PageSize]byte)(unsafe.Pointer(&f.words))
}

// LoadByte returns the byte stored at physAddr.
func (a *Arena) LoadByte(physAddr uintptr) (byte, *kernel.Error) {
	f, err := a.lookup(physAddr)
	if err != nil {
		return 0, err
	}

	return bytesOf(f)[physAddr&(mm.PageSize-1)], nil
}

// StoreByte stores v at physAddr.
func (a *Arena) StoreByte(physAddr uintptr, v byte) *kernel.Error {
	f, err := a.lookup(physAddr)
	if err != nil {
		return err
	}

	bytesOf(f)[physAddr&(mm.PageSize-1)] = v
	return nil
}

// Zero clears count frames starting at the frame-aligned address physAddr.
func (a *Arena) Zero(physAddr uintptr, count uintptr) *kernel.Error {
	if physAddr&(mm.PageSize-1) != 0 {
		return ErrMisaligned
	}
	if end := physAddr + count*mm.PageSize; end > a.size || end < physAddr {
		return ErrOutOfBounds
	}

	for ; count > 0; count, physAddr = count-1, physAddr+mm.PageSize {
		// Frames that were never touched already read as zero.
		if f, found := a.frames.Get(&frame{num: mm.FrameFromAddress(physAddr)}); found {
			f.words = [WordsPerFrame]uint64{}
		}
	}

	return nil
}
