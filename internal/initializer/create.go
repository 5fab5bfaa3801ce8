package initializer

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/observability"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/untyped"
)

// createObjects gives every object its cap: embedded frames first, then
// objects at fixed physical addresses in ascending order, then the other
// root objects largest first, then cover children, ASID pools and IRQ
// handlers.
func (i *Initializer) createObjects() error {
	var placed, rest []spec.ObjectID
	for id := i.sp.RootObjects.Start; id < i.sp.RootObjects.End; id++ {
		obj := &i.sp.Objects[id].Object
		switch {
		case obj.Kind.IsIRQ(), obj.Kind == spec.KindASIDPool:
		case obj.IsEmbeddedFrame():
			if err := i.createEmbedded(id); err != nil {
				return err
			}
		case obj.HasPaddr():
			placed = append(placed, id)
		default:
			rest = append(rest, id)
		}
	}

	slices.SortStableFunc(placed, func(a, b spec.ObjectID) int {
		return cmp.Compare(*i.sp.Objects[a].Object.Paddr, *i.sp.Objects[b].Object.Paddr)
	})
	for _, id := range placed {
		if err := i.createPlaced(id); err != nil {
			return err
		}
	}

	sizes := make(map[spec.ObjectID]uint8, len(rest))
	for _, id := range rest {
		bp, _, err := i.blueprint(id)
		if err != nil {
			return i.fail(PhaseCreate, "blueprint", id, err)
		}
		sizes[id] = i.arch.ObjectSizeBits(bp)
	}
	slices.SortStableFunc(rest, func(a, b spec.ObjectID) int {
		return cmp.Compare(sizes[b], sizes[a])
	})
	for _, id := range rest {
		if err := i.createPooled(id); err != nil {
			return err
		}
	}

	for _, cover := range i.sp.UntypedCovers {
		for id := cover.Children.Start; id < cover.Children.End; id++ {
			if err := i.createChild(cover.Parent, id); err != nil {
				return err
			}
		}
	}
	for _, id := range i.sp.ASIDSlots {
		if err := i.createASIDPool(id); err != nil {
			return err
		}
	}
	for _, entry := range i.sp.IRQs {
		if err := i.createIRQHandler(entry); err != nil {
			return err
		}
	}
	return nil
}

func (i *Initializer) blueprint(id spec.ObjectID) (kernel.Blueprint, bool, error) {
	obj := &i.sp.Objects[id].Object
	level := i.levels[id]
	if obj.Kind == spec.KindPageTable && obj.PageTable != nil && obj.PageTable.Level != nil {
		level = *obj.PageTable.Level
	}
	return i.arch.Blueprint(obj, level)
}

func (i *Initializer) created(id spec.ObjectID, c kernel.CPtr) {
	i.caps[id] = c
	kind := i.sp.Objects[id].Object.Kind
	i.report.record(Event{Kind: EventCreate, Phase: PhaseCreate, Object: id})
	observability.RecordObjectCreated(kind.String())
	log.Trace().Msgf("initializer.create object=%d kind=%s slot=%d name=%q", id, kind, c, i.name(id))
}

func (i *Initializer) createEmbedded(id spec.ObjectID) error {
	obj := &i.sp.Objects[id].Object
	if obj.SizeBits != i.arch.GranuleBits {
		return i.fail(PhaseCreate, "embedded_frame", id, fmt.Errorf("%w: %d-bit frame", ErrEmbedded, obj.SizeBits))
	}
	vaddr := i.cfg.SidecarVaddr + kernel.Word(obj.Frame.Init.Embedded.Offset)
	granule := kernel.Word(1) << i.arch.GranuleBits
	if vaddr < i.cfg.ImageVaddr || vaddr%granule != 0 {
		return i.fail(PhaseCreate, "embedded_frame", id, fmt.Errorf("%w: vaddr %#x", ErrEmbedded, vaddr))
	}
	c := i.cfg.BootInfo.UserImageFrames.Start + kernel.CPtr((vaddr-i.cfg.ImageVaddr)/granule)
	if !i.cfg.BootInfo.UserImageFrames.Contains(c) {
		return i.fail(PhaseCreate, "embedded_frame", id, fmt.Errorf("%w: vaddr %#x past the image", ErrEmbedded, vaddr))
	}
	i.created(id, c)
	return nil
}

func (i *Initializer) createPlaced(id spec.ObjectID) error {
	bp, _, err := i.blueprint(id)
	if err != nil {
		return i.fail(PhaseCreate, "blueprint", id, err)
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	paddr := kernel.Word(*i.sp.Objects[id].Object.Paddr)
	p, err := i.pool.RetypeAt(i.k, bp, i.arch.ObjectSizeBits(bp), paddr, dst, i.slots)
	if err != nil {
		return i.fail(PhaseCreate, "retype_at", id, err)
	}
	i.device[id] = i.pool.Regions()[p.Region].Device
	i.reserve(id, p)
	i.created(id, dst)
	return nil
}

func (i *Initializer) createPooled(id spec.ObjectID) error {
	bp, ok, err := i.blueprint(id)
	if err != nil {
		return i.fail(PhaseCreate, "blueprint", id, err)
	}
	if !ok {
		return i.fail(PhaseCreate, "blueprint", id, fmt.Errorf("%s objects are not retyped", i.sp.Objects[id].Object.Kind))
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	p, err := i.pool.Retype(i.k, bp, i.arch.ObjectSizeBits(bp), dst)
	if err != nil {
		return i.fail(PhaseCreate, "retype", id, err)
	}
	i.reserve(id, p)
	i.created(id, dst)
	return nil
}

func (i *Initializer) createChild(parent, id spec.ObjectID) error {
	region, ok := i.regions[parent]
	if !ok {
		return i.fail(PhaseCreate, "cover", id, fmt.Errorf("%w: parent untyped %d", ErrNotCreated, parent))
	}
	bp, ok, err := i.blueprint(id)
	if err != nil {
		return i.fail(PhaseCreate, "blueprint", id, err)
	}
	if !ok {
		return i.fail(PhaseCreate, "blueprint", id, fmt.Errorf("%s objects are not retyped", i.sp.Objects[id].Object.Kind))
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	p, err := i.pool.RetypeFrom(i.k, region, bp, i.arch.ObjectSizeBits(bp), dst)
	if err != nil {
		return i.fail(PhaseCreate, "retype_child", id, err)
	}
	i.device[id] = i.pool.Regions()[p.Region].Device
	i.reserve(id, p)
	i.created(id, dst)
	return nil
}

// reserve records a spec-declared untyped that other objects are carved
// from.
func (i *Initializer) reserve(id spec.ObjectID, p untyped.Placement) {
	if i.sp.Objects[id].Object.Kind != spec.KindUntyped {
		return
	}
	for _, cover := range i.sp.UntypedCovers {
		if cover.Parent == id {
			i.regions[id] = i.pool.Reserve(p)
			return
		}
	}
}

func (i *Initializer) createASIDPool(id spec.ObjectID) error {
	hold, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	bits := i.arch.ASIDPoolBits
	bp := kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: bits}
	if _, err := i.pool.Retype(i.k, bp, bits, hold); err != nil {
		return i.fail(PhaseCreate, "asid_pool_untyped", id, err)
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	if err := i.k.ASIDControlMakePool(hold, dst); err != nil {
		return i.fail(PhaseCreate, "asid_control_make_pool", id, err)
	}
	i.created(id, dst)
	return nil
}

func (i *Initializer) createIRQHandler(entry spec.IRQEntry) error {
	id := entry.Handler
	obj := &i.sp.Objects[id].Object
	req := kernel.IRQRequest{IRQ: uint64(entry.IRQ)}
	if x := obj.IRQ; x != nil {
		req.Trigger, req.Target = uint64(x.Trigger), uint64(x.Target)
		req.Handle, req.PCIBus, req.PCIDev, req.PCIFunc = uint64(x.Handle), uint64(x.PCIBus), uint64(x.PCIDev), uint64(x.PCIFunc)
		req.IOAPIC, req.Pin, req.Level, req.Polarity = uint64(x.IOAPIC), uint64(x.Pin), uint64(x.Level), uint64(x.Polarity)
	}
	switch obj.Kind {
	case spec.KindIRQ:
		req.Kind = kernel.IRQPlain
	case spec.KindArmIRQ, spec.KindRiscvIRQ:
		req.Kind = kernel.IRQTrigger
	case spec.KindIRQMSI:
		req.Kind = kernel.IRQMSI
	case spec.KindIRQIOAPIC:
		req.Kind = kernel.IRQIOAPIC
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return i.fail(PhaseCreate, "slot", id, err)
	}
	if err := i.k.IRQControlGet(req, dst); err != nil {
		return i.fail(PhaseCreate, "irq_control_get", id, err)
	}
	i.created(id, dst)
	return nil
}
