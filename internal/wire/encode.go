package wire

import (
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire/schema"
	"github.com/danmuck/capinit/internal/wire/tlv"
)

// EncodePrefix encodes the object graph. Every numeric field has a fixed
// width, so the encoded length depends only on the shape of the spec and
// not on the offsets it contains.
func EncodePrefix(s *spec.Spec) []byte {
	objects := make([]byte, 0, len(s.Objects)*64)
	for i := range s.Objects {
		objects = tlv.AppendField(objects, encodeObject(&s.Objects[i]))
	}
	fields := []tlv.Field{
		{ID: schema.FieldObjects, Type: tlv.TypeRecord, Value: objects},
		tlv.U32(schema.FieldRootStart, uint32(s.RootObjects.Start)),
		tlv.U32(schema.FieldRootEnd, uint32(s.RootObjects.End)),
	}
	if len(s.IRQs) > 0 {
		irqs := make([]tlv.Field, 0, len(s.IRQs))
		for _, e := range s.IRQs {
			irqs = append(irqs, tlv.Record(schema.FieldIRQ,
				tlv.U64(schema.FieldIRQNum, uint64(e.IRQ)),
				tlv.U32(schema.FieldHandler, uint32(e.Handler)),
			))
		}
		fields = append(fields, tlv.Record(schema.FieldIRQs, irqs...))
	}
	if len(s.ASIDSlots) > 0 {
		slots := make([]tlv.Field, 0, len(s.ASIDSlots))
		for _, id := range s.ASIDSlots {
			slots = append(slots, tlv.U32(schema.FieldASIDSlot, uint32(id)))
		}
		fields = append(fields, tlv.Record(schema.FieldASIDSlots, slots...))
	}
	if len(s.UntypedCovers) > 0 {
		covers := make([]tlv.Field, 0, len(s.UntypedCovers))
		for _, c := range s.UntypedCovers {
			covers = append(covers, tlv.Record(schema.FieldCover,
				tlv.U32(schema.FieldParent, uint32(c.Parent)),
				tlv.U32(schema.FieldChildStart, uint32(c.Children.Start)),
				tlv.U32(schema.FieldChildEnd, uint32(c.Children.End)),
			))
		}
		fields = append(fields, tlv.Record(schema.FieldCovers, covers...))
	}
	return tlv.EncodeFields(fields)
}

func encodeObject(n *spec.NamedObject) tlv.Field {
	o := &n.Object
	fs := []tlv.Field{
		tlv.U8(schema.FieldKind, uint8(o.Kind)),
		tlv.U8(schema.FieldNameKind, uint8(n.Name.Kind)),
	}
	switch n.Name.Kind {
	case spec.NameText:
		fs = append(fs, tlv.String(schema.FieldNameText, n.Name.Text))
	case spec.NameIndirect:
		fs = append(fs,
			tlv.U64(schema.FieldNameStart, n.Name.Range.Start),
			tlv.U64(schema.FieldNameEnd, n.Name.Range.End),
		)
	}
	if o.SizeBits != 0 {
		fs = append(fs, tlv.U8(schema.FieldSizeBits, o.SizeBits))
	}
	if o.Paddr != nil {
		fs = append(fs, tlv.U64(schema.FieldPaddr, uint64(*o.Paddr)))
	}
	for _, e := range o.Slots {
		fs = append(fs, encodeCap(e))
	}
	if o.TCB != nil {
		fs = append(fs, encodeTCB(o.TCB))
	}
	if o.Frame != nil {
		fs = append(fs, encodeFrameInit(o.Frame.Init))
	}
	if o.PageTable != nil {
		pt := []tlv.Field{tlv.Bool(schema.FieldIsRoot, o.PageTable.IsRoot)}
		if o.PageTable.Level != nil {
			pt = append(pt, tlv.U8(schema.FieldLevel, *o.PageTable.Level))
		}
		fs = append(fs, tlv.Record(schema.FieldPageTable, pt...))
	}
	if o.ASIDPool != nil {
		fs = append(fs, tlv.Record(schema.FieldASIDPool, tlv.U64(schema.FieldHigh, uint64(o.ASIDPool.High))))
	}
	if o.IRQ != nil {
		x := o.IRQ
		fs = append(fs, tlv.Record(schema.FieldIRQExtra,
			tlv.U64(schema.FieldTrigger, uint64(x.Trigger)),
			tlv.U64(schema.FieldTarget, uint64(x.Target)),
			tlv.U64(schema.FieldHandle, uint64(x.Handle)),
			tlv.U64(schema.FieldPCIBus, uint64(x.PCIBus)),
			tlv.U64(schema.FieldPCIDev, uint64(x.PCIDev)),
			tlv.U64(schema.FieldPCIFunc, uint64(x.PCIFunc)),
			tlv.U64(schema.FieldIOAPIC, uint64(x.IOAPIC)),
			tlv.U64(schema.FieldPin, uint64(x.Pin)),
			tlv.U64(schema.FieldIRQLevel, uint64(x.Level)),
			tlv.U64(schema.FieldPolarity, uint64(x.Polarity)),
		))
	}
	if o.SchedContext != nil {
		fs = append(fs, tlv.Record(schema.FieldSchedCtx,
			tlv.U64(schema.FieldPeriod, o.SchedContext.Period),
			tlv.U64(schema.FieldBudget, o.SchedContext.Budget),
			tlv.U64(schema.FieldSCBadge, uint64(o.SchedContext.Badge)),
		))
	}
	return tlv.Record(schema.FieldObject, fs...)
}

func encodeCap(e spec.CapTableEntry) tlv.Field {
	c := e.Cap
	fs := []tlv.Field{
		tlv.U32(schema.FieldSlotNum, uint32(e.Slot)),
		tlv.U8(schema.FieldCapKind, uint8(c.Kind)),
		tlv.U32(schema.FieldCapObject, uint32(c.Object)),
		tlv.U8(schema.FieldRights, c.Rights.Bits()),
	}
	if c.Badge != 0 {
		fs = append(fs, tlv.U64(schema.FieldBadge, uint64(c.Badge)))
	}
	if c.Guard != 0 || c.GuardSize != 0 {
		fs = append(fs,
			tlv.U64(schema.FieldGuard, uint64(c.Guard)),
			tlv.U8(schema.FieldGuardSize, c.GuardSize),
		)
	}
	if c.Kind == spec.KindFrame {
		fs = append(fs,
			tlv.Bool(schema.FieldCached, c.Cached),
			tlv.Bool(schema.FieldExecutable, c.Executable),
		)
	}
	return tlv.Record(schema.FieldSlot, fs...)
}

func encodeTCB(t *spec.TCBExtra) tlv.Field {
	fs := []tlv.Field{
		tlv.U64(schema.FieldIPCBuffer, uint64(t.IPCBufferAddr)),
		tlv.U64(schema.FieldAffinity, uint64(t.Affinity)),
		tlv.U8(schema.FieldPrio, t.Prio),
		tlv.U8(schema.FieldMaxPrio, t.MaxPrio),
		tlv.Bool(schema.FieldResume, t.Resume),
		tlv.U64(schema.FieldIP, uint64(t.IP)),
		tlv.U64(schema.FieldSP, uint64(t.SP)),
		tlv.U64(schema.FieldFlags, uint64(t.Flags)),
	}
	for _, g := range t.GPRs {
		fs = append(fs, tlv.U64(schema.FieldGPR, uint64(g)))
	}
	if t.MasterFaultEP != nil {
		fs = append(fs, tlv.U64(schema.FieldFaultEP, uint64(*t.MasterFaultEP)))
	}
	return tlv.Record(schema.FieldTCB, fs...)
}

func encodeFrameInit(init spec.FrameInit) tlv.Field {
	fs := []tlv.Field{tlv.U8(schema.FieldInitKind, uint8(init.Kind))}
	if init.Kind == spec.InitEmbedded {
		fs = append(fs, tlv.U64(schema.FieldEmbedOffset, init.Embedded.Offset))
		return tlv.Record(schema.FieldFrameInit, fs...)
	}
	for _, e := range init.Fill.Entries {
		fs = append(fs, encodeFill(e))
	}
	return tlv.Record(schema.FieldFrameInit, fs...)
}

func encodeFill(e spec.FillEntry) tlv.Field {
	c := e.Content
	fs := []tlv.Field{
		tlv.U64(schema.FieldFillStart, e.Range.Start),
		tlv.U64(schema.FieldFillEnd, e.Range.End),
		tlv.U8(schema.FieldContentKind, uint8(c.Kind)),
	}
	switch c.Kind {
	case spec.ContentFile:
		fs = append(fs,
			tlv.String(schema.FieldFile, c.File),
			tlv.U64(schema.FieldFileOffset, c.FileOffset),
		)
	case spec.ContentBytes, spec.ContentDeflated:
		fs = append(fs,
			tlv.U64(schema.FieldDataStart, c.Range.Start),
			tlv.U64(schema.FieldDataEnd, c.Range.End),
		)
	case spec.ContentInline:
		fs = append(fs, tlv.Bytes(schema.FieldData, c.Data))
	case spec.ContentBootInfo:
		fs = append(fs,
			tlv.U8(schema.FieldBootInfoID, uint8(c.BootInfo)),
			tlv.U64(schema.FieldBootInfoOff, c.Offset),
		)
	}
	return tlv.Record(schema.FieldFill, fs...)
}
