package vmm

import (
	"fmt"
	"testing"

	"zados/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   PageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 53)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       PageTableEntry
		physFrame = mm.Frame(123)
	)

	pte.SetFlags(FlagValid | FlagUserExecNever)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if !pte.HasFlags(FlagValid | FlagUserExecNever) {
		t.Fatal("expected SetFrame to preserve the descriptor flags")
	}

	// Bits outside 47:12 must be discarded
	pte.SetAddress(0xffff_0000_dead_b123)
	if got := pte.Address(); got != 0x0000_0000_dead_b000 {
		t.Fatalf("expected address to be masked to 0xdeadb000; got 0x%x", got)
	}
}

func TestEncodeLeafBitExact(t *testing.T) {
	specs := []struct {
		phys  uintptr
		attrs Attributes
		exp   PageTableEntry
	}{
		// valid | page | SH inner (0x300) | AF (0x400)
		{0x40000000, KernelRW, 0x40000703},
		// AttrIndx 1
		{0x09000000, KernelDevice, 0x09000707},
		// AP[2] read-only
		{0x40001000, KernelRO, 0x40001783},
		// AP[1] EL0 access + AP[2]
		{0x7ffff000, Attributes{Cacheable: true}, 0x7ffff7c3},
		{0x0000fffffffff000, Attributes{Writable: true}, 0x0000fffffffff747},
	}

	for specIndex, spec := range specs {
		if got := EncodeLeaf(spec.phys, spec.attrs); got != spec.exp {
			t.Errorf("[spec %d] expected EncodeLeaf(0x%x, %+v) to return 0x%x; got 0x%x", specIndex, spec.phys, spec.attrs, spec.exp, got)
		}
	}

	if got, exp := EncodeTableDescriptor(0x81000), PageTableEntry(0x81003); got != exp {
		t.Errorf("expected EncodeTableDescriptor(0x81000) to return 0x%x; got 0x%x", exp, got)
	}
}

func TestEncodeLeafRoundTrip(t *testing.T) {
	addrs := []uintptr{
		0,
		mm.PageSize,
		0x40000000,
		0x0000123456789000,
		0x0000fffffffff000,
	}

	for _, addr := range addrs {
		for combo := 0; combo < 8; combo++ {
			attrs := Attributes{
				Kernel:    combo&1 != 0,
				Writable:  combo&2 != 0,
				Cacheable: combo&4 != 0,
			}

			t.Run(fmt.Sprintf("0x%x/%d", addr, combo), func(t *testing.T) {
				pte := EncodeLeaf(addr, attrs)

				if !pte.Valid() || !pte.IsTable() {
					t.Error("expected leaf to have the valid and page bits set")
				}

				if !pte.AccessFlag() {
					t.Error("expected leaf to have the access flag set")
				}

				if got := pte.Shareability(); got != ShareInner {
					t.Errorf("expected inner shareability; got %d", got)
				}

				if pte.NotGlobal() {
					t.Error("expected kernel leaf to be global")
				}

				if got := pte.Address(); got != addr {
					t.Errorf("expected address 0x%x; got 0x%x", addr, got)
				}

				if got := pte.Attributes(); got != attrs {
					t.Errorf("expected attributes %+v; got %+v", attrs, got)
				}

				expIndex := AttrIndexNormal
				if !attrs.Cacheable {
					expIndex = AttrIndexDevice
				}
				if got := pte.AttrIndex(); got != expIndex {
					t.Errorf("expected attribute index %d; got %d", expIndex, got)
				}

				if pte.HasAnyFlag(FlagContiguous | FlagPrivExecNever | FlagUserExecNever | FlagNonSecure) {
					t.Error("expected upper attribute bits to be clear")
				}
			})
		}
	}
}

func TestTableDescriptorHasNoPermissions(t *testing.T) {
	pte := EncodeTableDescriptor(0x0000fffffffff000)

	if !pte.IsTable() {
		t.Fatal("expected table descriptor")
	}

	if pte.HasAnyFlag(FlagUserAccess | FlagReadOnly | FlagAccess | attrIndexMask | shareabilityMask) {
		t.Fatalf("expected table descriptor to carry no permission bits; got 0x%x", uint64(pte))
	}
}

func TestAttributeLabels(t *testing.T) {
	specs := []struct {
		attrs                       Attributes
		expPriv, expAccess, expType string
	}{
		{KernelRW, "kernel", "rw", "normal"},
		{KernelRO, "kernel", "ro", "normal"},
		{KernelDevice, "kernel", "rw", "device"},
		{Attributes{}, "user", "ro", "device"},
	}

	for specIndex, spec := range specs {
		priv, access, memType := spec.attrs.labels()
		if priv != spec.expPriv || access != spec.expAccess || memType != spec.expType {
			t.Errorf("[spec %d] expected labels %s/%s/%s; got %s/%s/%s", specIndex, spec.expPriv, spec.expAccess, spec.expType, priv, access, memType)
		}
	}
}
