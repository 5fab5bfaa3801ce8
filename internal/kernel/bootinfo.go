package kernel

// Initial cspace layout of the first thread.
const (
	CapNull CPtr = iota
	CapInitThreadTCB
	CapInitThreadCNode
	CapInitThreadVSpace
	CapIRQControl
	CapASIDControl
	CapInitThreadASIDPool
	CapIOPortControl
	CapIOSpace
	CapBootInfoFrame
	CapInitThreadIPCBuffer
	CapDomain
	CapSMMUSIDControl
	CapSMMUCBControl
	CapInitThreadSC
	CapSMC
	NumInitialCaps
)

// SlotRegion is a half-open range of slots in the initial cspace.
type SlotRegion struct {
	Start CPtr
	End   CPtr
}

func (r SlotRegion) Len() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

func (r SlotRegion) Contains(c CPtr) bool {
	return c >= r.Start && c < r.End
}

// UntypedDesc describes one untyped capability handed over at boot.
type UntypedDesc struct {
	Paddr    Word
	SizeBits uint8
	IsDevice bool
}

// BootInfo is what the kernel tells the first thread about its environment.
type BootInfo struct {
	NodeID   Word
	NumNodes Word

	InitCNodeSizeBits uint8
	Empty             SlotRegion
	UserImageFrames   SlotRegion
	Untyped           SlotRegion
	UntypedList       []UntypedDesc

	// MCS reports a kernel with scheduling contexts.
	MCS bool

	// FDT is the device tree passed by the bootloader, if any.
	FDT []byte
}

// UntypedCPtr returns the slot of the i-th untyped.
func (b *BootInfo) UntypedCPtr(i int) CPtr {
	return b.Untyped.Start + CPtr(i)
}
