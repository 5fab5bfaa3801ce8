package wire

import (
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire/schema"
	"github.com/danmuck/capinit/internal/wire/tlv"
)

// record reads typed fields out of one parsed record, remembering the first
// failure so decoders can read a run of fields and check once.
type record struct {
	kind   schema.Record
	object int
	fields []tlv.Field
	err    error
}

func parseRecord(kind schema.Record, object int, f tlv.Field) (*record, error) {
	fields, err := f.Fields()
	if err != nil {
		return nil, &DecodeError{Record: kind, Object: object, Err: err}
	}
	return newRecord(kind, object, fields)
}

func newRecord(kind schema.Record, object int, fields []tlv.Field) (*record, error) {
	if err := schema.Validate(kind, fields); err != nil {
		return nil, &DecodeError{Record: kind, Object: object, Err: err}
	}
	return &record{kind: kind, object: object, fields: fields}, nil
}

func (r *record) fail(err error) {
	if r.err == nil && err != nil {
		r.err = &DecodeError{Record: r.kind, Object: r.object, Err: err}
	}
}

func (r *record) get(id uint16) (tlv.Field, bool) {
	if r.err != nil {
		return tlv.Field{}, false
	}
	return tlv.GetField(r.fields, id)
}

func (r *record) has(id uint16) bool {
	_, ok := tlv.GetField(r.fields, id)
	return ok
}

func (r *record) u8(id uint16) uint8 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.U8()
	r.fail(err)
	return v
}

func (r *record) u32(id uint16) uint32 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.U32()
	r.fail(err)
	return v
}

func (r *record) u64(id uint16) uint64 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.U64()
	r.fail(err)
	return v
}

func (r *record) boolean(id uint16) bool {
	f, ok := r.get(id)
	if !ok {
		return false
	}
	v, err := f.Bool()
	r.fail(err)
	return v
}

func (r *record) str(id uint16) string {
	f, ok := r.get(id)
	if !ok {
		return ""
	}
	v, err := f.Str()
	r.fail(err)
	return v
}

func (r *record) sub(kind schema.Record, id uint16) *record {
	f, ok := r.get(id)
	if !ok {
		return nil
	}
	sub, err := parseRecord(kind, r.object, f)
	if err != nil {
		r.fail(err)
		return nil
	}
	return sub
}

// DecodePrefix decodes the whole object graph.
func DecodePrefix(prefix []byte) (*spec.Spec, error) {
	top, objects, err := splitPrefix(prefix)
	if err != nil {
		return nil, err
	}
	s := &spec.Spec{Objects: make([]spec.NamedObject, len(objects))}
	for i, f := range objects {
		obj, err := decodeObject(i, f)
		if err != nil {
			return nil, err
		}
		s.Objects[i] = obj
	}
	if err := decodeTables(top, s); err != nil {
		return nil, err
	}
	return s, nil
}

// splitPrefix validates the top-level record and returns it together with
// the (still encoded) object records, all borrowed from prefix.
func splitPrefix(prefix []byte) (*record, []tlv.Field, error) {
	fields, err := tlv.ParseFields(prefix)
	if err != nil {
		return nil, nil, &DecodeError{Record: schema.RecordSpec, Object: -1, Err: err}
	}
	top, err := newRecord(schema.RecordSpec, -1, fields)
	if err != nil {
		return nil, nil, err
	}
	objField, _ := top.get(schema.FieldObjects)
	objects, err := objField.Fields()
	if err != nil {
		return nil, nil, &DecodeError{Record: schema.RecordSpec, Object: -1, Err: err}
	}
	for i, f := range objects {
		if f.ID != schema.FieldObject {
			return nil, nil, &DecodeError{Record: schema.RecordSpec, Object: i, Err: tlv.ErrFieldTypeMismatch}
		}
	}
	return top, objects, nil
}

func decodeTables(top *record, s *spec.Spec) error {
	s.RootObjects = spec.IDRange{
		Start: spec.ObjectID(top.u32(schema.FieldRootStart)),
		End:   spec.ObjectID(top.u32(schema.FieldRootEnd)),
	}
	if irqs := top.sub(schema.RecordList, schema.FieldIRQs); irqs != nil {
		for _, f := range tlv.AllFields(irqs.fields, schema.FieldIRQ) {
			r, err := parseRecord(schema.RecordIRQ, -1, f)
			if err != nil {
				return err
			}
			s.IRQs = append(s.IRQs, spec.IRQEntry{
				IRQ:     spec.Word(r.u64(schema.FieldIRQNum)),
				Handler: spec.ObjectID(r.u32(schema.FieldHandler)),
			})
			if r.err != nil {
				return r.err
			}
		}
	}
	if slots := top.sub(schema.RecordList, schema.FieldASIDSlots); slots != nil {
		for _, f := range tlv.AllFields(slots.fields, schema.FieldASIDSlot) {
			v, err := f.U32()
			if err != nil {
				return &DecodeError{Record: schema.RecordSpec, Object: -1, Err: err}
			}
			s.ASIDSlots = append(s.ASIDSlots, spec.ObjectID(v))
		}
	}
	if covers := top.sub(schema.RecordList, schema.FieldCovers); covers != nil {
		for _, f := range tlv.AllFields(covers.fields, schema.FieldCover) {
			r, err := parseRecord(schema.RecordCover, -1, f)
			if err != nil {
				return err
			}
			s.UntypedCovers = append(s.UntypedCovers, spec.UntypedCover{
				Parent: spec.ObjectID(r.u32(schema.FieldParent)),
				Children: spec.IDRange{
					Start: spec.ObjectID(r.u32(schema.FieldChildStart)),
					End:   spec.ObjectID(r.u32(schema.FieldChildEnd)),
				},
			})
			if r.err != nil {
				return r.err
			}
		}
	}
	return top.err
}

func decodeObject(index int, f tlv.Field) (spec.NamedObject, error) {
	r, err := parseRecord(schema.RecordObject, index, f)
	if err != nil {
		return spec.NamedObject{}, err
	}
	var n spec.NamedObject
	n.Name.Kind = spec.NameKind(r.u8(schema.FieldNameKind))
	switch n.Name.Kind {
	case spec.NameNone:
	case spec.NameText:
		n.Name.Text = r.str(schema.FieldNameText)
	case spec.NameIndirect:
		n.Name.Range = spec.Range{Start: r.u64(schema.FieldNameStart), End: r.u64(schema.FieldNameEnd)}
	default:
		r.fail(spec.ErrMalformed)
	}

	o := &n.Object
	o.Kind = spec.ObjectKind(r.u8(schema.FieldKind))
	if !o.Kind.Valid() {
		r.fail(spec.ErrUnknownKind)
	}
	o.SizeBits = r.u8(schema.FieldSizeBits)
	if r.has(schema.FieldPaddr) {
		o.Paddr = spec.WordPtr(spec.Word(r.u64(schema.FieldPaddr)))
	}
	for _, sf := range tlv.AllFields(r.fields, schema.FieldSlot) {
		e, err := decodeCap(index, sf)
		if err != nil {
			return spec.NamedObject{}, err
		}
		o.Slots = append(o.Slots, e)
	}
	if t := r.sub(schema.RecordTCB, schema.FieldTCB); t != nil {
		o.TCB = decodeTCB(t)
		r.fail(t.err)
	}
	if fi := r.sub(schema.RecordFrameInit, schema.FieldFrameInit); fi != nil {
		init, err := decodeFrameInit(index, fi)
		if err != nil {
			return spec.NamedObject{}, err
		}
		o.Frame = &spec.FrameExtra{Init: init}
	}
	if pt := r.sub(schema.RecordPageTable, schema.FieldPageTable); pt != nil {
		o.PageTable = &spec.PageTableExtra{IsRoot: pt.boolean(schema.FieldIsRoot)}
		if pt.has(schema.FieldLevel) {
			o.PageTable.Level = spec.Uint8Ptr(pt.u8(schema.FieldLevel))
		}
		r.fail(pt.err)
	}
	if pool := r.sub(schema.RecordASIDPool, schema.FieldASIDPool); pool != nil {
		o.ASIDPool = &spec.ASIDPoolExtra{High: spec.Word(pool.u64(schema.FieldHigh))}
		r.fail(pool.err)
	}
	if x := r.sub(schema.RecordIRQExtra, schema.FieldIRQExtra); x != nil {
		o.IRQ = &spec.IRQExtra{
			Trigger:  spec.Word(x.u64(schema.FieldTrigger)),
			Target:   spec.Word(x.u64(schema.FieldTarget)),
			Handle:   spec.Word(x.u64(schema.FieldHandle)),
			PCIBus:   spec.Word(x.u64(schema.FieldPCIBus)),
			PCIDev:   spec.Word(x.u64(schema.FieldPCIDev)),
			PCIFunc:  spec.Word(x.u64(schema.FieldPCIFunc)),
			IOAPIC:   spec.Word(x.u64(schema.FieldIOAPIC)),
			Pin:      spec.Word(x.u64(schema.FieldPin)),
			Level:    spec.Word(x.u64(schema.FieldIRQLevel)),
			Polarity: spec.Word(x.u64(schema.FieldPolarity)),
		}
		r.fail(x.err)
	}
	if sc := r.sub(schema.RecordSchedContext, schema.FieldSchedCtx); sc != nil {
		o.SchedContext = &spec.SchedContextExtra{
			Period: sc.u64(schema.FieldPeriod),
			Budget: sc.u64(schema.FieldBudget),
			Badge:  spec.Word(sc.u64(schema.FieldSCBadge)),
		}
		r.fail(sc.err)
	}
	if r.err != nil {
		return spec.NamedObject{}, r.err
	}
	return n, nil
}

func decodeCap(index int, f tlv.Field) (spec.CapTableEntry, error) {
	r, err := parseRecord(schema.RecordCap, index, f)
	if err != nil {
		return spec.CapTableEntry{}, err
	}
	e := spec.CapTableEntry{
		Slot: spec.CapSlot(r.u32(schema.FieldSlotNum)),
		Cap: spec.Cap{
			Kind:       spec.ObjectKind(r.u8(schema.FieldCapKind)),
			Object:     spec.ObjectID(r.u32(schema.FieldCapObject)),
			Rights:     spec.RightsFromBits(r.u8(schema.FieldRights)),
			Badge:      spec.Word(r.u64(schema.FieldBadge)),
			Guard:      spec.Word(r.u64(schema.FieldGuard)),
			GuardSize:  r.u8(schema.FieldGuardSize),
			Cached:     r.boolean(schema.FieldCached),
			Executable: r.boolean(schema.FieldExecutable),
		},
	}
	return e, r.err
}

func decodeTCB(r *record) *spec.TCBExtra {
	t := &spec.TCBExtra{
		IPCBufferAddr: spec.Word(r.u64(schema.FieldIPCBuffer)),
		Affinity:      spec.Word(r.u64(schema.FieldAffinity)),
		Prio:          r.u8(schema.FieldPrio),
		MaxPrio:       r.u8(schema.FieldMaxPrio),
		Resume:        r.boolean(schema.FieldResume),
		IP:            spec.Word(r.u64(schema.FieldIP)),
		SP:            spec.Word(r.u64(schema.FieldSP)),
		Flags:         spec.Word(r.u64(schema.FieldFlags)),
	}
	for _, g := range tlv.AllFields(r.fields, schema.FieldGPR) {
		v, err := g.U64()
		r.fail(err)
		t.GPRs = append(t.GPRs, spec.Word(v))
	}
	if r.has(schema.FieldFaultEP) {
		t.MasterFaultEP = spec.WordPtr(spec.Word(r.u64(schema.FieldFaultEP)))
	}
	return t
}

func decodeFrameInit(index int, r *record) (spec.FrameInit, error) {
	init := spec.FrameInit{Kind: spec.InitKind(r.u8(schema.FieldInitKind))}
	switch init.Kind {
	case spec.InitEmbedded:
		init.Embedded.Offset = r.u64(schema.FieldEmbedOffset)
		return init, r.err
	case spec.InitFill:
	default:
		r.fail(spec.ErrMalformed)
		return spec.FrameInit{}, r.err
	}
	for _, f := range tlv.AllFields(r.fields, schema.FieldFill) {
		fr, err := parseRecord(schema.RecordFill, index, f)
		if err != nil {
			return spec.FrameInit{}, err
		}
		e := spec.FillEntry{
			Range:   spec.Range{Start: fr.u64(schema.FieldFillStart), End: fr.u64(schema.FieldFillEnd)},
			Content: spec.Content{Kind: spec.ContentKind(fr.u8(schema.FieldContentKind))},
		}
		switch e.Content.Kind {
		case spec.ContentFile:
			e.Content.File = fr.str(schema.FieldFile)
			e.Content.FileOffset = fr.u64(schema.FieldFileOffset)
		case spec.ContentBytes, spec.ContentDeflated:
			e.Content.Range = spec.Range{Start: fr.u64(schema.FieldDataStart), End: fr.u64(schema.FieldDataEnd)}
		case spec.ContentInline:
			if d, ok := fr.get(schema.FieldData); ok {
				e.Content.Data = d.Value
			}
		case spec.ContentBootInfo:
			e.Content.BootInfo = spec.BootInfoID(fr.u8(schema.FieldBootInfoID))
			e.Content.Offset = fr.u64(schema.FieldBootInfoOff)
		default:
			fr.fail(spec.ErrMalformed)
		}
		if fr.err != nil {
			return spec.FrameInit{}, fr.err
		}
		init.Fill.Entries = append(init.Fill.Entries, e)
	}
	return init, r.err
}
