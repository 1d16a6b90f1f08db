package vmm

import "zados/kernel"

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. After walkFn returns, the walk descends into the table whose
// address is stored in the entry, so walkFn may install a new table
// descriptor before the walk continues.
//
// walk returns an error if a table address cannot be resolved.
func (pdt *PageDirectoryTable) walk(virtAddr uintptr, walkFn pageTableWalker) *kernel.Error {
	var (
		tableAddr = pdt.rootFrame.Address()
		table     *Table
		pte       *PageTableEntry
		err       *kernel.Error
	)

	for level := uint8(0); level < pageLevels; level++ {
		if table, err = pdt.mem.TableAt(tableAddr); err != nil {
			return err
		}

		pte = &table[LevelIndex(virtAddr, level)]
		if !walkFn(level, pte) {
			return nil
		}

		tableAddr = pte.Address()
	}

	return nil
}

// walkLevel returns the entry that translates virtAddr together with the
// level at which translation completed. If a level 0-2 entry is invalid (or
// the leaf itself is invalid) walkLevel returns that entry, its level and
// ErrInvalidMapping.
func (pdt *PageDirectoryTable) walkLevel(virtAddr uintptr) (*PageTableEntry, uint8, *kernel.Error) {
	var (
		entry      *PageTableEntry
		entryLevel uint8
		err        *kernel.Error
	)

	walkErr := pdt.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		entry, entryLevel = pte, pteLevel

		switch {
		case !pte.Valid():
			err = ErrInvalidMapping
			return false
		case pteLevel < pageLevels-1 && !pte.IsTable():
			err = errBlockDescriptor
			return false
		}

		return true
	})

	if walkErr != nil {
		return nil, 0, walkErr
	}

	return entry, entryLevel, err
}

// visitLeaves invokes visitor for each valid leaf reachable from the root
// in ascending virtual address order.
func (pdt *PageDirectoryTable) visitLeaves(visitor func(virtAddr uintptr, pte PageTableEntry) bool) *kernel.Error {
	_, err := pdt.visitTable(pdt.rootFrame.Address(), 0, 0, visitor)
	return err
}

func (pdt *PageDirectoryTable) visitTable(tableAddr, baseAddr uintptr, level uint8, visitor func(uintptr, PageTableEntry) bool) (bool, *kernel.Error) {
	table, err := pdt.mem.TableAt(tableAddr)
	if err != nil {
		return false, err
	}

	for index, pte := range table {
		if !pte.Valid() {
			continue
		}

		virtAddr := baseAddr | uintptr(index)<<pageLevelShifts[level]
		if level == pageLevels-1 {
			if !visitor(virtAddr, pte) {
				return false, nil
			}
			continue
		}

		if !pte.IsTable() {
			continue
		}

		cont, err := pdt.visitTable(pte.Address(), virtAddr, level+1, visitor)
		if err != nil || !cont {
			return cont, err
		}
	}

	return true, nil
}
