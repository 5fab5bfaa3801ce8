package spec

import "fmt"

// NamedObject is one entry of the object table.
type NamedObject struct {
	Name   Name
	Object Object
}

// IRQEntry binds an interrupt line to the IRQ handler object that owns it.
type IRQEntry struct {
	IRQ     Word
	Handler ObjectID
}

// UntypedCover lists objects carved out of a spec-declared untyped rather
// than out of the kernel pool.
type UntypedCover struct {
	Parent   ObjectID
	Children IDRange
}

// Spec is the whole object graph. Every cross-reference is an index into
// Objects, so the structure can be copied or archived without fix-ups.
type Spec struct {
	Objects       []NamedObject
	IRQs          []IRQEntry
	ASIDSlots     []ObjectID
	RootObjects   IDRange
	UntypedCovers []UntypedCover
}

func (s *Spec) Len() int {
	return len(s.Objects)
}

func (s *Spec) Get(id ObjectID) (*NamedObject, error) {
	if int(id) >= len(s.Objects) {
		return nil, fmt.Errorf("%w: object=%d len=%d", ErrUnknownObject, id, len(s.Objects))
	}
	return &s.Objects[id], nil
}

// MustGet is Get for ids already checked by Validate.
func (s *Spec) MustGet(id ObjectID) *NamedObject {
	obj, err := s.Get(id)
	if err != nil {
		panic(err)
	}
	return obj
}

// IDs returns the ids of all objects of kind k in index order.
func (s *Spec) IDs(k ObjectKind) []ObjectID {
	var out []ObjectID
	for i := range s.Objects {
		if s.Objects[i].Object.Kind == k {
			out = append(out, ObjectID(i))
		}
	}
	return out
}

// RootPageTables returns every page table marked as the root of a vspace.
func (s *Spec) RootPageTables() []ObjectID {
	var out []ObjectID
	for i := range s.Objects {
		if s.Objects[i].Object.IsRootPageTable() {
			out = append(out, ObjectID(i))
		}
	}
	return out
}

func (s *Spec) IsRoot(id ObjectID) bool {
	return s.RootObjects.Contains(id)
}

// CoverOf returns the cover that carves id, if any.
func (s *Spec) CoverOf(id ObjectID) (UntypedCover, bool) {
	for _, c := range s.UntypedCovers {
		if c.Children.Contains(id) {
			return c, true
		}
	}
	return UntypedCover{}, false
}

// CanEmbed reports whether a frame can ship as a pre-rendered page of the
// loader image: a root object, not physically placed, exactly one granule,
// with fill content known at build time.
func (s *Spec) CanEmbed(id ObjectID, granuleBits uint8) bool {
	if !s.IsRoot(id) || int(id) >= len(s.Objects) {
		return false
	}
	obj := &s.Objects[id].Object
	fill, ok := obj.FrameFill()
	if !ok {
		return false
	}
	return !obj.HasPaddr() &&
		obj.SizeBits == granuleBits &&
		!fill.IsEmpty() &&
		!fill.DependsOnBootInfo()
}

// IsPackaged reports whether every name and fill content is a sidecar
// indirection (or needs no build-time data at all).
func (s *Spec) IsPackaged() bool {
	for i := range s.Objects {
		if s.Objects[i].Name.Kind == NameText {
			return false
		}
		fill, ok := s.Objects[i].Object.FrameFill()
		if !ok {
			continue
		}
		for _, e := range fill.Entries {
			if e.Content.Kind == ContentFile || e.Content.Kind == ContentInline {
				return false
			}
		}
	}
	return true
}

// IsSelfContained reports whether the spec needs neither files nor a sidecar.
func (s *Spec) IsSelfContained() bool {
	for i := range s.Objects {
		if s.Objects[i].Name.Kind == NameIndirect {
			return false
		}
		if s.Objects[i].Object.IsEmbeddedFrame() {
			return false
		}
		fill, ok := s.Objects[i].Object.FrameFill()
		if !ok {
			continue
		}
		for _, e := range fill.Entries {
			switch e.Content.Kind {
			case ContentInline, ContentBootInfo:
			default:
				return false
			}
		}
	}
	return true
}

// PageTableLevels assigns a translation level to every page table reachable
// from a root, checking any level the spec declares explicitly.
func (s *Spec) PageTableLevels() (map[ObjectID]uint8, error) {
	levels := make(map[ObjectID]uint8)
	var walk func(id ObjectID, level uint8) error
	walk = func(id ObjectID, level uint8) error {
		if prev, seen := levels[id]; seen {
			return objectError(id, "page_table", "reachable at levels %d and %d", prev, level)
		}
		obj := &s.Objects[id].Object
		if obj.PageTable != nil && obj.PageTable.Level != nil && *obj.PageTable.Level != level {
			return objectError(id, "page_table.level", "declared level %d but reached at %d", *obj.PageTable.Level, level)
		}
		levels[id] = level
		for _, e := range obj.Slots {
			if e.Cap.Kind != KindPageTable {
				continue
			}
			if int(e.Cap.Object) >= len(s.Objects) {
				return objectError(id, "slots", "slot %d references unknown object %d", e.Slot, e.Cap.Object)
			}
			if s.Objects[e.Cap.Object].Object.IsRootPageTable() {
				return objectError(id, "slots", "slot %d maps root page table %d", e.Slot, e.Cap.Object)
			}
			if err := walk(e.Cap.Object, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range s.RootPageTables() {
		if err := walk(root, 0); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

// Clone returns a deep copy. Inline content bytes are shared.
func (s *Spec) Clone() *Spec {
	out := &Spec{
		Objects:       make([]NamedObject, len(s.Objects)),
		IRQs:          append([]IRQEntry(nil), s.IRQs...),
		ASIDSlots:     append([]ObjectID(nil), s.ASIDSlots...),
		RootObjects:   s.RootObjects,
		UntypedCovers: append([]UntypedCover(nil), s.UntypedCovers...),
	}
	for i := range s.Objects {
		out.Objects[i] = s.Objects[i].clone()
	}
	return out
}

func (n NamedObject) clone() NamedObject {
	o := n.Object
	out := NamedObject{Name: n.Name, Object: Object{Kind: o.Kind, SizeBits: o.SizeBits}}
	if o.Paddr != nil {
		out.Object.Paddr = WordPtr(*o.Paddr)
	}
	if o.Slots != nil {
		out.Object.Slots = append([]CapTableEntry(nil), o.Slots...)
	}
	if o.TCB != nil {
		tcb := *o.TCB
		tcb.GPRs = append([]Word(nil), o.TCB.GPRs...)
		if o.TCB.MasterFaultEP != nil {
			tcb.MasterFaultEP = WordPtr(*o.TCB.MasterFaultEP)
		}
		out.Object.TCB = &tcb
	}
	if o.Frame != nil {
		frame := *o.Frame
		frame.Init.Fill.Entries = append([]FillEntry(nil), o.Frame.Init.Fill.Entries...)
		out.Object.Frame = &frame
	}
	if o.PageTable != nil {
		pt := *o.PageTable
		if o.PageTable.Level != nil {
			pt.Level = Uint8Ptr(*o.PageTable.Level)
		}
		out.Object.PageTable = &pt
	}
	if o.ASIDPool != nil {
		pool := *o.ASIDPool
		out.Object.ASIDPool = &pool
	}
	if o.IRQ != nil {
		irq := *o.IRQ
		out.Object.IRQ = &irq
	}
	if o.SchedContext != nil {
		sc := *o.SchedContext
		out.Object.SchedContext = &sc
	}
	return out
}
