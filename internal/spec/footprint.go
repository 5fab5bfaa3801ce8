package spec

import "unsafe"

var (
	namedObjectSize   = uint64(unsafe.Sizeof(NamedObject{}))
	capTableEntrySize = uint64(unsafe.Sizeof(CapTableEntry{}))
	fillEntrySize     = uint64(unsafe.Sizeof(FillEntry{}))
	irqEntrySize      = uint64(unsafe.Sizeof(IRQEntry{}))
	coverSize         = uint64(unsafe.Sizeof(UntypedCover{}))
	wordSize          = uint64(unsafe.Sizeof(Word(0)))
	objectIDSize      = uint64(unsafe.Sizeof(ObjectID(0)))
	tcbExtraSize      = uint64(unsafe.Sizeof(TCBExtra{}))
	frameExtraSize    = uint64(unsafe.Sizeof(FrameExtra{}))
	ptExtraSize       = uint64(unsafe.Sizeof(PageTableExtra{}))
	irqExtraSize      = uint64(unsafe.Sizeof(IRQExtra{}))
	scExtraSize       = uint64(unsafe.Sizeof(SchedContextExtra{}))
	poolExtraSize     = uint64(unsafe.Sizeof(ASIDPoolExtra{}))
)

// Footprint is an upper bound on the bytes the whole spec occupies once every
// name and every fill entry is resolved into memory. It is computed from
// declared lengths only, so it can size buffers before anything is resolved.
func (s *Spec) Footprint() uint64 {
	total := uint64(unsafe.Sizeof(Spec{}))
	total += uint64(len(s.IRQs)) * irqEntrySize
	total += uint64(len(s.ASIDSlots)) * objectIDSize
	total += uint64(len(s.UntypedCovers)) * coverSize
	for i := range s.Objects {
		total += s.Objects[i].Footprint()
	}
	return total
}

// Footprint of one object including its resolved name and content.
func (n *NamedObject) Footprint() uint64 {
	total := namedObjectSize + n.Name.Footprint()
	o := &n.Object
	if o.Paddr != nil {
		total += wordSize
	}
	total += uint64(len(o.Slots)) * capTableEntrySize
	if o.TCB != nil {
		total += tcbExtraSize + uint64(len(o.TCB.GPRs))*wordSize
		if o.TCB.MasterFaultEP != nil {
			total += wordSize
		}
	}
	if o.Frame != nil {
		total += frameExtraSize + o.Frame.Init.Fill.Footprint()
	}
	if o.PageTable != nil {
		total += ptExtraSize + 1
	}
	if o.IRQ != nil {
		total += irqExtraSize
	}
	if o.SchedContext != nil {
		total += scExtraSize
	}
	if o.ASIDPool != nil {
		total += poolExtraSize
	}
	return total
}

// Footprint of a resolved name.
func (n Name) Footprint() uint64 {
	switch n.Kind {
	case NameText:
		return uint64(len(n.Text))
	case NameIndirect:
		return n.Range.Len()
	default:
		return 0
	}
}

// Footprint of a fill including every entry's resolved content.
func (f Fill) Footprint() uint64 {
	total := uint64(len(f.Entries)) * fillEntrySize
	return total + f.ContentFootprint()
}

// ContentFootprint is the number of content bytes the fill resolves to. It is
// the declared uncompressed length of every entry, independent of how the
// content is stored.
func (f Fill) ContentFootprint() uint64 {
	var total uint64
	for _, e := range f.Entries {
		total += e.Range.Len()
	}
	return total
}

// MaxEntryLen is the largest single entry, the size of a scratch buffer that
// can hold any one resolved entry.
func (f Fill) MaxEntryLen() uint64 {
	var longest uint64
	for _, e := range f.Entries {
		if n := e.Range.Len(); n > longest {
			longest = n
		}
	}
	return longest
}
