package spec

import "sort"

// Validate checks the structural invariants every later stage relies on:
// indices in range, cap kinds matching their targets, unique slots, fill
// entries inside their frame and every object reachable by exactly one
// creation path. It does not resolve names or content.
func (s *Spec) Validate() error {
	n := ObjectID(len(s.Objects))
	if s.RootObjects.Start > s.RootObjects.End || s.RootObjects.End > n {
		return specError("root_objects", "range [%d,%d) outside %d objects", s.RootObjects.Start, s.RootObjects.End, n)
	}
	for i := range s.Objects {
		if err := s.validateObject(ObjectID(i)); err != nil {
			return err
		}
	}
	if err := s.validateCreationPaths(); err != nil {
		return err
	}
	if _, err := s.PageTableLevels(); err != nil {
		return err
	}
	return nil
}

func (s *Spec) validateObject(id ObjectID) error {
	obj := &s.Objects[id].Object
	if !obj.Kind.Valid() {
		return objectError(id, "kind", "unknown kind %d", obj.Kind)
	}
	if len(obj.Slots) > 0 && !obj.Kind.HasCapTable() {
		return objectError(id, "slots", "%s has no capability table", obj.Kind)
	}
	seen := make(map[CapSlot]struct{}, len(obj.Slots))
	for _, e := range obj.Slots {
		if _, dup := seen[e.Slot]; dup {
			return objectError(id, "slots", "duplicate slot %d", e.Slot)
		}
		seen[e.Slot] = struct{}{}
		if int(e.Cap.Object) >= len(s.Objects) {
			return objectError(id, "slots", "slot %d references unknown object %d", e.Slot, e.Cap.Object)
		}
		target := s.Objects[e.Cap.Object].Object.Kind
		if e.Cap.Kind != target {
			return objectError(id, "slots", "slot %d cap kind %s but object %d is %s", e.Slot, e.Cap.Kind, e.Cap.Object, target)
		}
		if obj.Kind == KindCNode && uint64(e.Slot) >= obj.NumSlots() {
			return objectError(id, "slots", "slot %d outside cnode of %d slots", e.Slot, obj.NumSlots())
		}
	}
	if obj.Paddr != nil && obj.Kind != KindFrame && obj.Kind != KindUntyped {
		return objectError(id, "paddr", "%s cannot be physically placed", obj.Kind)
	}
	if obj.Paddr != nil && *obj.Paddr&((Word(1)<<obj.SizeBits)-1) != 0 {
		return objectError(id, "paddr", "paddr %#x not aligned to %d bits", *obj.Paddr, obj.SizeBits)
	}
	switch obj.Kind {
	case KindTCB:
		if obj.TCB == nil {
			return objectError(id, "tcb", "missing thread state")
		}
		if obj.TCB.Prio > obj.TCB.MaxPrio {
			return objectError(id, "tcb.prio", "prio %d above max prio %d", obj.TCB.Prio, obj.TCB.MaxPrio)
		}
	case KindFrame:
		if obj.Frame == nil {
			return objectError(id, "frame", "missing frame init")
		}
		return s.validateFrame(id, obj)
	case KindPageTable:
		if obj.PageTable == nil {
			return objectError(id, "page_table", "missing page table attributes")
		}
		for _, e := range obj.Slots {
			if e.Cap.Kind != KindFrame && e.Cap.Kind != KindPageTable {
				return objectError(id, "slots", "slot %d maps a %s", e.Slot, e.Cap.Kind)
			}
		}
	case KindSchedContext:
		if obj.SchedContext == nil {
			return objectError(id, "sched_context", "missing budget and period")
		}
		if obj.SchedContext.Budget > obj.SchedContext.Period {
			return objectError(id, "sched_context", "budget %d exceeds period %d", obj.SchedContext.Budget, obj.SchedContext.Period)
		}
	case KindIRQMSI, KindIRQIOAPIC, KindArmIRQ, KindRiscvIRQ:
		if obj.IRQ == nil {
			return objectError(id, "irq", "%s needs issue parameters", obj.Kind)
		}
	}
	if obj.Kind.IsIRQ() {
		for _, e := range obj.Slots {
			if e.Slot != SlotIRQNotification || e.Cap.Kind != KindNotification {
				return objectError(id, "slots", "irq handler slot %d must be a notification at slot %d", e.Slot, SlotIRQNotification)
			}
		}
	}
	return nil
}

func (s *Spec) validateFrame(id ObjectID, obj *Object) error {
	size := uint64(1) << obj.SizeBits
	init := obj.Frame.Init
	switch init.Kind {
	case InitEmbedded:
		if !s.IsRoot(id) {
			return objectError(id, "frame.init", "embedded frame outside root objects")
		}
		if obj.Paddr != nil {
			return objectError(id, "frame.init", "embedded frame cannot be physically placed")
		}
		return nil
	case InitFill:
	default:
		return objectError(id, "frame.init", "unknown init kind %d", init.Kind)
	}
	for i, e := range init.Fill.Entries {
		if !e.Range.Within(size) {
			return objectError(id, "frame.fill", "entry %d range [%d,%d) outside frame of %d bytes", i, e.Range.Start, e.Range.End, size)
		}
		switch e.Content.Kind {
		case ContentFile:
			if e.Content.File == "" {
				return objectError(id, "frame.fill", "entry %d names no file", i)
			}
		case ContentBytes:
			if e.Content.Range.Len() != e.Range.Len() || !e.Content.Range.Valid() {
				return objectError(id, "frame.fill", "entry %d content length %d does not match entry length %d", i, e.Content.Range.Len(), e.Range.Len())
			}
		case ContentDeflated:
			if !e.Content.Range.Valid() {
				return objectError(id, "frame.fill", "entry %d compressed range is inverted", i)
			}
		case ContentInline:
			if uint64(len(e.Content.Data)) != e.Range.Len() {
				return objectError(id, "frame.fill", "entry %d inline length %d does not match entry length %d", i, len(e.Content.Data), e.Range.Len())
			}
		case ContentBootInfo:
			if e.Content.BootInfo != BootInfoFDT {
				return objectError(id, "frame.fill", "entry %d unknown bootinfo %d", i, e.Content.BootInfo)
			}
		default:
			return objectError(id, "frame.fill", "entry %d unknown content kind %d", i, e.Content.Kind)
		}
	}
	return nil
}

// validateCreationPaths checks each object is created exactly once: retyped as
// a root object or cover child, issued for an IRQ entry or made for an ASID
// slot.
func (s *Spec) validateCreationPaths() error {
	paths := make([]int, len(s.Objects))
	for i := range s.Objects {
		id := ObjectID(i)
		kind := s.Objects[i].Object.Kind
		if kind.IsIRQ() || kind == KindASIDPool {
			continue
		}
		if s.IsRoot(id) {
			paths[i]++
		}
	}
	covers := append([]UntypedCover(nil), s.UntypedCovers...)
	sort.Slice(covers, func(i, j int) bool { return covers[i].Children.Start < covers[j].Children.Start })
	for i, c := range covers {
		if int(c.Parent) >= len(s.Objects) || s.Objects[c.Parent].Object.Kind != KindUntyped {
			return specError("untyped_covers", "parent %d is not an untyped", c.Parent)
		}
		if c.Children.Start > c.Children.End || int(c.Children.End) > len(s.Objects) {
			return specError("untyped_covers", "children [%d,%d) out of range", c.Children.Start, c.Children.End)
		}
		if c.Children.Contains(c.Parent) {
			return specError("untyped_covers", "untyped %d covers itself", c.Parent)
		}
		if i > 0 && covers[i-1].Children.Overlaps(c.Children) {
			return specError("untyped_covers", "children of %d and %d overlap", covers[i-1].Parent, c.Parent)
		}
		for id := c.Children.Start; id < c.Children.End; id++ {
			paths[id]++
		}
	}
	for _, entry := range s.IRQs {
		if int(entry.Handler) >= len(s.Objects) || !s.Objects[entry.Handler].Object.Kind.IsIRQ() {
			return specError("irqs", "irq %d handler %d is not an irq object", entry.IRQ, entry.Handler)
		}
		paths[entry.Handler]++
	}
	for _, pool := range s.ASIDSlots {
		if int(pool) >= len(s.Objects) || s.Objects[pool].Object.Kind != KindASIDPool {
			return specError("asid_slots", "object %d is not an asid pool", pool)
		}
		paths[pool]++
	}
	for i, n := range paths {
		switch {
		case n == 0:
			return objectError(ObjectID(i), "", "%s is never created", s.Objects[i].Object.Kind)
		case n > 1:
			return objectError(ObjectID(i), "", "%s is created by %d paths", s.Objects[i].Object.Kind, n)
		}
	}
	return nil
}
