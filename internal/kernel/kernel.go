// Package kernel describes the microkernel primitives the initializer is
// built on. Every primitive is a synchronous invocation that either succeeds
// or returns an *Error carrying the kernel's error code.
package kernel

import "fmt"

// CPtr addresses a slot in the initializer's own cspace.
type CPtr uint64

type Word = uint64

// Rights is the kernel's packed rights word (write, read, grant, grant-reply
// from bit 0).
type Rights uint8

const RightsAll Rights = 0x0f

// ObjectType is the type argument of a retype.
type ObjectType uint32

const (
	TypeUntyped ObjectType = iota
	TypeTCB
	TypeEndpoint
	TypeNotification
	TypeCNode
	TypeSchedContext
	TypeReply
	TypeFrame
	TypePageTable
	TypeVSpace
	TypeVCPU

	// Not retypeable; issued through control caps.
	TypeASIDPool
	TypeIRQHandler
)

var typeNames = map[ObjectType]string{
	TypeUntyped:      "untyped",
	TypeTCB:          "tcb",
	TypeEndpoint:     "endpoint",
	TypeNotification: "notification",
	TypeCNode:        "cnode",
	TypeSchedContext: "sched_context",
	TypeReply:        "reply",
	TypeFrame:        "frame",
	TypePageTable:    "page_table",
	TypeVSpace:       "vspace",
	TypeVCPU:         "vcpu",
	TypeASIDPool:     "asid_pool",
	TypeIRQHandler:   "irq_handler",
}

func (t ObjectType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// Blueprint is everything a retype needs to know about the object it
// creates. SizeBits is the user size argument (untyped and frame size, CNode
// slot count, sched context size); Level selects the translation level of a
// page table on architectures with per-level table types.
type Blueprint struct {
	Type     ObjectType
	SizeBits uint8
	Level    uint8
}

func (b Blueprint) String() string {
	switch b.Type {
	case TypeUntyped, TypeFrame, TypeCNode, TypeSchedContext:
		return fmt.Sprintf("%s/%d", b.Type, b.SizeBits)
	case TypePageTable:
		return fmt.Sprintf("%s@%d", b.Type, b.Level)
	default:
		return b.Type.String()
	}
}

// SlotRef names a destination slot inside some CNode: Index resolved in Root
// to Depth bits.
type SlotRef struct {
	Root  CPtr
	Index Word
	Depth uint8
}

// VMAttributes is the architecture's mapping attribute word.
type VMAttributes uint64

// UserContext is the register state written into a thread.
type UserContext struct {
	PC    Word
	SP    Word
	Flags Word
	GPRs  []Word
}

// TCBConfig is the argument of TCB configure.
type TCBConfig struct {
	FaultEP        Word
	CSpaceRoot     CPtr
	CSpaceRootData Word
	VSpaceRoot     CPtr
	IPCBufferAddr  Word
	IPCBufferFrame CPtr
}

// SchedParams is the argument of TCB set-sched-params. SchedContext and
// FaultEP are only meaningful on MCS kernels.
type SchedParams struct {
	Authority    CPtr
	MaxPrio      uint8
	Prio         uint8
	SchedContext CPtr
	FaultEP      CPtr
}

// IRQKind selects the IRQ control invocation used to issue a handler.
type IRQKind uint8

const (
	IRQPlain IRQKind = iota
	IRQTrigger
	IRQMSI
	IRQIOAPIC
)

// IRQRequest describes one handler to issue.
type IRQRequest struct {
	Kind     IRQKind
	IRQ      Word
	Trigger  Word
	Target   Word
	Handle   Word
	PCIBus   Word
	PCIDev   Word
	PCIFunc  Word
	IOAPIC   Word
	Pin      Word
	Level    Word
	Polarity Word
}

// Kernel is the set of primitives the initializer invokes.
type Kernel interface {
	UntypedRetype(untyped CPtr, bp Blueprint, dst CPtr) error

	CNodeCopy(dst SlotRef, src CPtr, rights Rights) error
	CNodeMint(dst SlotRef, src CPtr, rights Rights, badge Word) error

	FrameMap(frame, vspace CPtr, vaddr Word, rights Rights, attrs VMAttributes) error
	FrameUnmap(frame CPtr) error
	PageTableMap(table, vspace CPtr, vaddr Word, attrs VMAttributes) error

	ASIDControlMakePool(untyped CPtr, dst CPtr) error
	ASIDPoolAssign(pool, vspace CPtr) error

	IRQControlGet(req IRQRequest, dst CPtr) error
	IRQHandlerSetNotification(handler, ntfn CPtr) error

	TCBConfigure(tcb CPtr, cfg TCBConfig) error
	TCBSetSchedParams(tcb CPtr, params SchedParams) error
	TCBSetTimeoutEndpoint(tcb, ep CPtr) error
	TCBSetAffinity(tcb CPtr, core Word) error
	TCBWriteRegisters(tcb CPtr, resume bool, ctx UserContext) error
	TCBBindNotification(tcb, ntfn CPtr) error
	TCBResume(tcb CPtr) error
	TCBSuspend(tcb CPtr) error
	TCBSetName(tcb CPtr, name string) error
	VCPUSetTCB(vcpu, tcb CPtr) error

	SchedControlConfigure(core Word, sc CPtr, budget, period uint64, badge Word) error
}

// Memory is the initializer's access path into its own address space: a
// byte window over whatever is currently mapped at vaddr.
type Memory interface {
	Window(vaddr Word, length uint64) ([]byte, error)
}
