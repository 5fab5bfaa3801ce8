package initializer

import (
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
)

// bindIRQs points every IRQ handler at its notification.
func (i *Initializer) bindIRQs() error {
	for _, entry := range i.sp.IRQs {
		id := entry.Handler
		obj := &i.sp.Objects[id].Object
		c, ok := obj.IRQNotification()
		if !ok {
			continue
		}
		handler, err := i.capOf(id)
		if err != nil {
			return i.fail(PhaseIRQ, "handler", id, err)
		}
		ntfn, err := i.capOf(c.Object)
		if c.NeedsMint() {
			ntfn, err = i.copyCap(c.Object, c)
		}
		if err != nil {
			return i.fail(PhaseIRQ, "notification", id, err)
		}
		if err := i.k.IRQHandlerSetNotification(handler, ntfn); err != nil {
			return i.fail(PhaseIRQ, "irq_handler_set_notification", id, err)
		}
		i.populated(PhaseIRQ, id, spec.SlotIRQNotification, c.Object)
	}
	return nil
}

// assignASIDs gives every root page table an ASID from the initial pool.
func (i *Initializer) assignASIDs() error {
	for _, id := range i.sp.RootPageTables() {
		vs, err := i.capOf(id)
		if err != nil {
			return i.fail(PhaseASID, "vspace", id, err)
		}
		if err := i.k.ASIDPoolAssign(kernel.CapInitThreadASIDPool, vs); err != nil {
			return i.fail(PhaseASID, "asid_pool_assign", id, err)
		}
	}
	return nil
}

// mapVSpaces walks every root page table top down, mapping each table
// before its own entries and each frame through a fresh copy of its cap.
func (i *Initializer) mapVSpaces() error {
	for _, root := range i.sp.RootPageTables() {
		vs, err := i.capOf(root)
		if err != nil {
			return i.fail(PhaseVSpace, "vspace", root, err)
		}
		if err := i.mapTable(vs, root, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

func (i *Initializer) mapTable(vs kernel.CPtr, table spec.ObjectID, level int, base kernel.Word) error {
	obj := &i.sp.Objects[table].Object
	step := i.arch.StepBits(level)
	for _, entry := range obj.PopulationOrder() {
		vaddr := base + kernel.Word(entry.Slot)<<step
		target := entry.Cap.Object
		switch i.sp.Objects[target].Object.Kind {
		case spec.KindPageTable:
			pt, err := i.capOf(target)
			if err != nil {
				return i.fail(PhaseVSpace, "page_table", table, err)
			}
			if err := i.k.PageTableMap(pt, vs, vaddr, i.arch.Attrs.Default); err != nil {
				return i.fail(PhaseVSpace, "page_table_map", target, err)
			}
			i.populated(PhaseVSpace, table, entry.Slot, target)
			if err := i.mapTable(vs, target, level+1, vaddr); err != nil {
				return err
			}
		case spec.KindFrame:
			frame, err := i.copyCap(target, entry.Cap)
			if err != nil {
				return i.fail(PhaseVSpace, "frame_copy", target, err)
			}
			rights := kernel.Rights(entry.Cap.EffectiveRights().Bits())
			attrs := i.arch.VMAttributes(entry.Cap.Cached, entry.Cap.Executable)
			if err := i.k.FrameMap(frame, vs, vaddr, rights, attrs); err != nil {
				return i.fail(PhaseVSpace, "frame_map", target, err)
			}
			i.report.Mappings++
			i.populated(PhaseVSpace, table, entry.Slot, target)
		}
	}
	return nil
}
