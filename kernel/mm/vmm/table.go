package vmm

import (
	"unsafe"

	"zados/kernel"
	"zados/kernel/mm"
	"zados/kernel/mm/physmem"
)

// Table is one level of the translation tree. It occupies exactly one
// physical frame.
type Table [entriesPerTable]PageTableEntry

// LevelIndex returns the index into the level table that virtAddr selects.
func LevelIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// Level0Index returns VA bits 47:39.
func Level0Index(virtAddr uintptr) uintptr { return LevelIndex(virtAddr, 0) }

// Level1Index returns VA bits 38:30.
func Level1Index(virtAddr uintptr) uintptr { return LevelIndex(virtAddr, 1) }

// Level2Index returns VA bits 29:21.
func Level2Index(virtAddr uintptr) uintptr { return LevelIndex(virtAddr, 2) }

// Level3Index returns VA bits 20:12.
func Level3Index(virtAddr uintptr) uintptr { return LevelIndex(virtAddr, 3) }

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}

// Memory resolves the physical address stored in a table descriptor into
// the table it refers to.
type Memory interface {
	TableAt(physAddr uintptr) (*Table, *kernel.Error)

	// ZeroTable clears the frame at physAddr and returns it as a table.
	ZeroTable(physAddr uintptr) (*Table, *kernel.Error)
}

// ErrInvalidTableAddress is returned by Memory implementations when a
// descriptor points outside physical memory or is not frame aligned.
var ErrInvalidTableAddress = &kernel.Error{Module: "vmm", Message: "table address is outside physical memory or misaligned"}

// ArenaMemory backs page tables with a simulated physical memory arena.
type ArenaMemory struct {
	arena *physmem.Arena
}

// NewArenaMemory returns a Memory that resolves table addresses inside arena.
func NewArenaMemory(arena *physmem.Arena) *ArenaMemory {
	return &ArenaMemory{arena: arena}
}

// Arena returns the backing arena.
func (m *ArenaMemory) Arena() *physmem.Arena {
	return m.arena
}

// TableAt implements Memory.
func (m *ArenaMemory) TableAt(physAddr uintptr) (*Table, *kernel.Error) {
	words, err := m.arena.Words(physAddr)
	if err != nil {
		return nil, ErrInvalidTableAddress
	}

	return (*Table)(unsafe.Pointer(words)), nil
}

// ZeroTable implements Memory.
func (m *ArenaMemory) ZeroTable(physAddr uintptr) (*Table, *kernel.Error) {
	if err := m.arena.Zero(physAddr, 1); err != nil {
		return nil, ErrInvalidTableAddress
	}

	return m.TableAt(physAddr)
}

// LoadByte reads the byte at physAddr.
func (m *ArenaMemory) LoadByte(physAddr uintptr) (byte, *kernel.Error) {
	return m.arena.LoadByte(physAddr)
}

// IdentityMemory resolves table addresses on a system where physical memory
// is identity mapped (or translation is still disabled) so that a physical
// address can be dereferenced directly.
type IdentityMemory struct {
	// Limit is the first address past the end of physical memory.
	Limit uintptr
}

// tablePtrFn converts an address into a table pointer. It is used by tests
// to redirect accesses to Go-allocated tables.
var tablePtrFn = func(physAddr uintptr) *Table {
	return (*Table)(unsafe.Pointer(physAddr))
}

// TableAt implements Memory.
func (m IdentityMemory) TableAt(physAddr uintptr) (*Table, *kernel.Error) {
	if physAddr&(mm.PageSize-1) != 0 || physAddr+mm.PageSize > m.Limit || physAddr+mm.PageSize < physAddr {
		return nil, ErrInvalidTableAddress
	}

	return tablePtrFn(physAddr), nil
}

// ZeroTable implements Memory.
func (m IdentityMemory) ZeroTable(physAddr uintptr) (*Table, *kernel.Error) {
	table, err := m.TableAt(physAddr)
	if err != nil {
		return nil, err
	}

	*table = Table{}
	return table, nil
}
