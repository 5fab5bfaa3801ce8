package spec

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectKind tags the Object union. The set is closed: it mirrors the
// kernel's object types and nothing outside this package adds to it.
type ObjectKind uint8

const (
	KindUntyped ObjectKind = iota + 1
	KindEndpoint
	KindNotification
	KindCNode
	KindTCB
	KindIRQ
	KindArmIRQ
	KindIRQMSI
	KindIRQIOAPIC
	KindRiscvIRQ
	KindVCPU
	KindFrame
	KindPageTable
	KindASIDPool
	KindSchedContext
	KindReply
)

var kindNames = map[ObjectKind]string{
	KindUntyped:      "untyped",
	KindEndpoint:     "endpoint",
	KindNotification: "notification",
	KindCNode:        "cnode",
	KindTCB:          "tcb",
	KindIRQ:          "irq",
	KindArmIRQ:       "arm_irq",
	KindIRQMSI:       "irq_msi",
	KindIRQIOAPIC:    "irq_ioapic",
	KindRiscvIRQ:     "riscv_irq",
	KindVCPU:         "vcpu",
	KindFrame:        "frame",
	KindPageTable:    "page_table",
	KindASIDPool:     "asid_pool",
	KindSchedContext: "sched_context",
	KindReply:        "reply",
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k ObjectKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// HasCapTable reports whether objects of this kind carry a capability table.
func (k ObjectKind) HasCapTable() bool {
	switch k {
	case KindCNode, KindTCB, KindPageTable:
		return true
	default:
		return k.IsIRQ()
	}
}

func (k ObjectKind) IsIRQ() bool {
	switch k {
	case KindIRQ, KindArmIRQ, KindIRQMSI, KindIRQIOAPIC, KindRiscvIRQ:
		return true
	default:
		return false
	}
}

// CarriesRights reports whether caps to this kind carry a meaningful rights
// mask. Caps to other kinds are always derived with all rights.
func (k ObjectKind) CarriesRights() bool {
	switch k {
	case KindEndpoint, KindNotification, KindFrame:
		return true
	default:
		return false
	}
}

func ParseObjectKind(raw string) (ObjectKind, error) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	for k, name := range kindNames {
		if name == needle {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// KindNames lists every kind name in sorted order.
func KindNames() []string {
	out := make([]string, 0, len(kindNames))
	for _, name := range kindNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Object is a tagged union over kernel object kinds. Kind selects which of the
// optional fields are meaningful:
//
//	Untyped       SizeBits, Paddr
//	CNode         SizeBits, Slots
//	TCB           Slots, TCB
//	IRQ kinds     Slots, IRQ
//	Frame         SizeBits, Paddr, Frame
//	PageTable     Slots, PageTable
//	ASIDPool      ASIDPool
//	SchedContext  SizeBits, SchedContext
//
// Endpoint, Notification, VCPU and Reply carry nothing.
type Object struct {
	Kind     ObjectKind
	SizeBits uint8
	Paddr    *Word
	Slots    []CapTableEntry

	TCB          *TCBExtra
	Frame        *FrameExtra
	PageTable    *PageTableExtra
	ASIDPool     *ASIDPoolExtra
	IRQ          *IRQExtra
	SchedContext *SchedContextExtra
}

// TCBExtra is the architecture register state and scheduling parameters of a
// thread.
type TCBExtra struct {
	IPCBufferAddr Word
	Affinity      Word
	Prio          uint8
	MaxPrio       uint8
	Resume        bool
	IP            Word
	SP            Word
	Flags         Word
	GPRs          []Word
	MasterFaultEP *Word
}

type FrameExtra struct {
	Init FrameInit
}

type PageTableExtra struct {
	IsRoot bool
	Level  *uint8
}

type ASIDPoolExtra struct {
	High Word
}

// IRQExtra carries the issue parameters of the IRQ kinds that need them.
type IRQExtra struct {
	// ArmIRQ and RiscvIRQ.
	Trigger Word
	Target  Word

	// IRQMSI.
	Handle  Word
	PCIBus  Word
	PCIDev  Word
	PCIFunc Word

	// IRQIOAPIC.
	IOAPIC   Word
	Pin      Word
	Level    Word
	Polarity Word
}

type SchedContextExtra struct {
	Period uint64
	Budget uint64
	Badge  Word
}

// HasPaddr reports whether the object must be placed at a fixed physical
// address.
func (o *Object) HasPaddr() bool {
	return o.Paddr != nil
}

func (o *Object) IsRootPageTable() bool {
	return o.Kind == KindPageTable && o.PageTable != nil && o.PageTable.IsRoot
}

// IsEmbeddedFrame reports whether the frame's content ships as a whole page
// inside the loader image.
func (o *Object) IsEmbeddedFrame() bool {
	return o.Kind == KindFrame && o.Frame != nil && o.Frame.Init.Kind == InitEmbedded
}

func WordPtr(w Word) *Word {
	return &w
}

func Uint8Ptr(v uint8) *uint8 {
	return &v
}
