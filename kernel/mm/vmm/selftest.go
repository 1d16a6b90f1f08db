package vmm

import (
	"zados/kernel"
	"zados/kernel/gate"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
)

// continuationOffset is the distance from a faulting probe load to the
// instruction that follows it.
const continuationOffset = 4

var (
	errSelfTestUnexpectedFault = &kernel.Error{Module: "vmm", Message: "self test: probe of a mapped page faulted"}
	errSelfTestMissingFault    = &kernel.Error{Module: "vmm", Message: "self test: probe of an unmapped page did not fault exactly once"}
	errSelfTestWrongFault      = &kernel.Error{Module: "vmm", Message: "self test: unexpected fault syndrome"}
)

// runSelfTests exercises the fault path of the active kernel table. A
// scratch page is reserved in the kernel virtual window and backed by a new
// frame. Reading from it must not fault. After the page is unmapped, reading
// from it must raise exactly one level 3 translation fault which the
// installed interceptor resumes at the instruction after the load.
func runSelfTests() *kernel.Error {
	var (
		faultCount int
		lastFault  FaultInfo
	)

	kfmt.Printf("[vmm] running fault injection self tests\n")

	prev := SetFaultInterceptor(func(info FaultInfo, regs *gate.Registers) FaultAction {
		faultCount++
		lastFault = info
		regs.ELR += continuationOffset
		return FaultResume
	})
	defer SetFaultInterceptor(prev)

	scratch, err := earlyReserveRegionFn(mm.PageSize)
	if err != nil {
		return err
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	if err = mapFn(scratch, scratch+mm.PageSize, frame.Address(), frame.Address()+mm.PageSize, KernelRW, nil, &kernelPDT); err != nil {
		return err
	}

	probeReadFn(scratch)
	if faultCount != 0 {
		return errSelfTestUnexpectedFault
	}

	if err = unmapFn(scratch, scratch+mm.PageSize, &kernelPDT); err != nil {
		return err
	}

	probeReadFn(scratch)
	switch {
	case faultCount != 1:
		return errSelfTestMissingFault
	case lastFault.Address != scratch || lastFault.Status != FaultTranslation ||
		lastFault.Level != pageLevels-1 || lastFault.Present || lastFault.Write || lastFault.User:
		return errSelfTestWrongFault
	}

	kfmt.Printf("[vmm] self tests passed\n")
	return nil
}
