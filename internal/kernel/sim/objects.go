package sim

import "github.com/danmuck/capinit/internal/kernel"

// Object is one kernel object held by the simulator. Inspection accessors
// hand out pointers into simulator state; callers must treat them as
// read-only.
type Object struct {
	ID       int
	Type     kernel.ObjectType
	SizeBits uint8
	// UserBits is the retype size argument (CNode slot count bits, frame and
	// untyped size).
	UserBits uint8
	Level    uint8
	Paddr    kernel.Word
	Device   bool

	// untyped
	Watermark kernel.Word
	poisoned  bool

	// frame
	data []byte

	// cnode
	Slots map[kernel.Word]*Cap

	// vspace and page tables
	Entries map[kernel.Word]*Object
	ASID    uint32

	// asid pool
	poolBase uint32
	poolUsed uint32

	// irq handler
	IRQ          kernel.Word
	Notification *Object

	// sched context
	Budget     uint64
	Period     uint64
	Badge      kernel.Word
	Core       kernel.Word
	Configured bool

	Thread *Thread
	// vcpu
	BoundTCB *Object
}

// Cap is a capability stored in a CNode slot.
type Cap struct {
	Object    *Object
	Rights    kernel.Rights
	Badge     kernel.Word
	GuardData kernel.Word

	mapping *Mapping
}

// Mapped reports whether this frame cap currently backs a mapping.
func (c *Cap) Mapped() bool {
	return c.mapping != nil
}

// Mapping is one installed frame mapping.
type Mapping struct {
	VSpace *Object
	Vaddr  kernel.Word
	Frame  *Object
	Rights kernel.Rights
	Attrs  kernel.VMAttributes
}

// Thread is the register and binding state of a TCB.
type Thread struct {
	Configured     bool
	CSpace         *Object
	CSpaceRootData kernel.Word
	VSpace         *Object
	IPCBufferAddr  kernel.Word
	IPCBuffer      *Object
	FaultEP        kernel.Word
	MCSFaultEP     *Object
	TimeoutEP      *Object
	Prio           uint8
	MaxPrio        uint8
	SchedContext   *Object
	Affinity       kernel.Word
	Context        kernel.UserContext
	RegistersSet   bool
	Bound          *Object
	VCPU           *Object
	Running        bool
	Suspended      bool
	Name           string
}

// Bytes returns the frame's backing memory, allocating it on first use.
func (o *Object) Bytes() []byte {
	if o.Type != kernel.TypeFrame {
		return nil
	}
	if o.data == nil {
		o.data = make([]byte, 1<<o.SizeBits)
		if o.poisoned {
			for i := range o.data {
				o.data[i] = PoisonByte
			}
		}
	}
	return o.data
}

func (o *Object) end() kernel.Word {
	return o.Paddr + (1 << o.SizeBits)
}
