package vmm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"zados/kernel/gate"
	"zados/kernel/kfmt"
)

func TestDecodeFault(t *testing.T) {
	specs := []struct {
		esr, far, spsr uint64
		exp            FaultInfo
		expStr         string
	}{
		{
			// EL1 data abort, read, level 3 translation fault
			0x96000007, 0x1000, 0x3c5,
			FaultInfo{Address: 0x1000, Class: gate.ClassDataAbortSameEL, Status: FaultTranslation, Level: 3},
			"kernel fault reading from non-present page at 0x0000000000001000: data access, translation level 3",
		},
		{
			// EL0 data abort, write, level 3 permission fault
			0x9200004f, 0x400000, 0x0,
			FaultInfo{Address: 0x400000, Class: gate.ClassDataAbortLowerEL, Status: FaultPermission, Level: 3, Write: true, User: true, Present: true},
			"user fault writing to present page at 0x0000000000400000: data access, translation level 3 (permission fault)",
		},
		{
			// EL1 instruction abort, level 1 translation fault; WnR is ignored
			0x86000045, 0xdead000, 0x3c5,
			FaultInfo{Address: 0xdead000, Class: gate.ClassInstructionAbortSameEL, Status: FaultTranslation, Level: 1, Instruction: true},
			"kernel fault reading from non-present page at 0x000000000dead000: instruction access, translation level 1",
		},
		{
			// EL0 instruction abort, level 2 access flag fault
			0x8200000a, 0x2000, 0x0,
			FaultInfo{Address: 0x2000, Class: gate.ClassInstructionAbortLowerEL, Status: FaultAccessFlag, Level: 2, Instruction: true, User: true, Present: true},
			"user fault reading from present page at 0x0000000000002000: instruction access, translation level 2 (access flag fault)",
		},
		{
			// EL1 data abort, level 0 address size fault
			0x96000040, 0x1000000000000, 0x3c4,
			FaultInfo{Address: 0x1000000000000, Class: gate.ClassDataAbortSameEL, Status: FaultAddressSize, Level: 0, Write: true},
			"kernel fault writing to non-present page at 0x0001000000000000: data access, translation level 0 (address size fault)",
		},
		{
			// EL1 data abort, alignment fault
			0x96000021, 0x1001, 0x3c5,
			FaultInfo{Address: 0x1001, Class: gate.ClassDataAbortSameEL, Status: FaultOther},
			"kernel fault reading from non-present page at 0x0000000000001001: data access, unclassified fault status",
		},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			got := DecodeFault(spec.esr, spec.far, spec.spsr)
			if diff := cmp.Diff(spec.exp, got); diff != "" {
				t.Fatalf("unexpected decoded fault (-want +got):\n%s", diff)
			}

			if str := got.String(); str != spec.expStr {
				t.Fatalf("expected description:\n%q\ngot:\n%q", spec.expStr, str)
			}
		})
	}
}

func TestFaultStatusString(t *testing.T) {
	specs := map[FaultStatus]string{
		FaultOther:       "other",
		FaultAddressSize: "address size",
		FaultTranslation: "translation",
		FaultAccessFlag:  "access flag",
		FaultPermission:  "permission",
		FaultStatus(42):  "other",
	}

	for status, exp := range specs {
		if got := status.String(); got != exp {
			t.Errorf("expected %d to be described as %q; got %q", status, exp, got)
		}
	}
}

func TestPageFaultHandler(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
		SetFaultInterceptor(nil)
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	t.Run("escalate", func(t *testing.T) {
		buf.Reset()
		SetFaultInterceptor(nil)

		var panicErr interface{}
		panicFn = func(e interface{}) {
			panicErr = e
		}

		regs := gate.Registers{ESR: 0x96000007, FAR: 0x1000, SPSR: 0x3c5, ELR: 0x80000}
		pageFaultHandler(&regs)

		if panicErr != errUnrecoverableFault {
			t.Fatalf("expected panic with errUnrecoverableFault; got %v", panicErr)
		}

		for _, exp := range []string{
			"[vmm] kernel fault reading from non-present page at 0x0000000000001000: data access, translation level 3\n",
			"Registers:\n",
			"ELR = 0000000000080000",
		} {
			if !strings.Contains(buf.String(), exp) {
				t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
			}
		}
	})

	t.Run("interceptor resumes", func(t *testing.T) {
		buf.Reset()

		panicFn = func(e interface{}) {
			t.Fatalf("unexpected panic: %v", e)
		}

		var intercepted FaultInfo
		prev := SetFaultInterceptor(func(info FaultInfo, regs *gate.Registers) FaultAction {
			intercepted = info
			regs.ELR += continuationOffset
			return FaultResume
		})
		if prev != nil {
			t.Fatal("expected no previous interceptor")
		}

		regs := gate.Registers{ESR: 0x9600004f, FAR: 0x2000, SPSR: 0x3c5, ELR: 0x80000}
		pageFaultHandler(&regs)

		if regs.ELR != 0x80004 {
			t.Fatalf("expected ELR to point at the continuation; got 0x%x", regs.ELR)
		}

		if !intercepted.Write || intercepted.Level != 3 || intercepted.Status != FaultPermission {
			t.Fatalf("unexpected intercepted fault: %+v", intercepted)
		}

		if strings.Contains(buf.String(), "Registers:") {
			t.Fatal("expected resumed faults not to dump registers")
		}
	})

	t.Run("interceptor escalates", func(t *testing.T) {
		var panicErr interface{}
		panicFn = func(e interface{}) {
			panicErr = e
		}

		SetFaultInterceptor(func(_ FaultInfo, _ *gate.Registers) FaultAction {
			return FaultEscalate
		})

		pageFaultHandler(&gate.Registers{ESR: 0x86000006})

		if panicErr != errUnrecoverableFault {
			t.Fatalf("expected panic with errUnrecoverableFault; got %v", panicErr)
		}
	})
}

func TestPageFaultHandlerViaDispatch(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
		faultHandlerInstalled = [faultVectorCount]bool{}
		gate.Reset()
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	// A vector owned by another handler is reported
	gate.Reset()
	faultHandlerInstalled = [faultVectorCount]bool{}
	if err := gate.HandleException(gate.InstructionAbort, func(*gate.Registers) {}); err != nil {
		t.Fatal(err)
	}
	if err := installFaultHandlers(); err != gate.ErrAlreadyRegistered {
		t.Fatalf("expected gate.ErrAlreadyRegistered; got %v", err)
	}
	if !faultHandlerInstalled[0] || faultHandlerInstalled[1] {
		t.Fatalf("unexpected installed vectors: %v", faultHandlerInstalled)
	}

	gate.Reset()
	faultHandlerInstalled = [faultVectorCount]bool{}
	if err := installFaultHandlers(); err != nil {
		t.Fatal(err)
	}

	// Registering again is a no-op
	if err := installFaultHandlers(); err != nil {
		t.Fatalf("expected a repeated install to succeed; got %v", err)
	}

	panicCount := 0
	panicFn = func(_ interface{}) {
		panicCount++
	}

	gate.Dispatch(&gate.Registers{ESR: 0x96000007})
	gate.Dispatch(&gate.Registers{ESR: 0x86000006})

	if panicCount != 2 {
		t.Fatalf("expected data and instruction aborts to reach the fault handler; got %d escalations", panicCount)
	}
}
