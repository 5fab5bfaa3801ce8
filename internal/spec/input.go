package spec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a human-readable spec document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Document is the human-readable form of a Spec: objects are referenced by
// name, content by file path.
type Document struct {
	Objects       []ObjectDoc `json:"objects" yaml:"objects"`
	IRQs          []IRQDoc    `json:"irqs,omitempty" yaml:"irqs,omitempty"`
	ASIDSlots     []string    `json:"asid_slots,omitempty" yaml:"asid_slots,omitempty"`
	RootObjects   *RangeDoc   `json:"root_objects,omitempty" yaml:"root_objects,omitempty"`
	UntypedCovers []CoverDoc  `json:"untyped_covers,omitempty" yaml:"untyped_covers,omitempty"`
}

type RangeDoc struct {
	Start uint32 `json:"start" yaml:"start"`
	End   uint32 `json:"end" yaml:"end"`
}

type CoverDoc struct {
	Parent   string   `json:"parent" yaml:"parent"`
	Children RangeDoc `json:"children" yaml:"children"`
}

type IRQDoc struct {
	IRQ     uint64 `json:"irq" yaml:"irq"`
	Handler string `json:"handler" yaml:"handler"`
}

type ObjectDoc struct {
	Name         string           `json:"name,omitempty" yaml:"name,omitempty"`
	Kind         string           `json:"kind" yaml:"kind"`
	SizeBits     uint8            `json:"size_bits,omitempty" yaml:"size_bits,omitempty"`
	Paddr        *uint64          `json:"paddr,omitempty" yaml:"paddr,omitempty"`
	Slots        []SlotDoc        `json:"slots,omitempty" yaml:"slots,omitempty"`
	TCB          *TCBDoc          `json:"tcb,omitempty" yaml:"tcb,omitempty"`
	Fill         []FillDoc        `json:"fill,omitempty" yaml:"fill,omitempty"`
	PageTable    *PageTableDoc    `json:"page_table,omitempty" yaml:"page_table,omitempty"`
	ASIDPool     *ASIDPoolDoc     `json:"asid_pool,omitempty" yaml:"asid_pool,omitempty"`
	IRQ          *IRQExtraDoc     `json:"irq,omitempty" yaml:"irq,omitempty"`
	SchedContext *SchedContextDoc `json:"sched_context,omitempty" yaml:"sched_context,omitempty"`
}

type SlotDoc struct {
	Slot       uint32   `json:"slot" yaml:"slot"`
	Object     string   `json:"object" yaml:"object"`
	Rights     []string `json:"rights,omitempty" yaml:"rights,omitempty"`
	Badge      uint64   `json:"badge,omitempty" yaml:"badge,omitempty"`
	Guard      uint64   `json:"guard,omitempty" yaml:"guard,omitempty"`
	GuardSize  uint8    `json:"guard_size,omitempty" yaml:"guard_size,omitempty"`
	Cached     *bool    `json:"cached,omitempty" yaml:"cached,omitempty"`
	Executable bool     `json:"executable,omitempty" yaml:"executable,omitempty"`
}

type TCBDoc struct {
	IPCBufferAddr uint64   `json:"ipc_buffer_addr,omitempty" yaml:"ipc_buffer_addr,omitempty"`
	Affinity      uint64   `json:"affinity,omitempty" yaml:"affinity,omitempty"`
	Prio          uint8    `json:"prio,omitempty" yaml:"prio,omitempty"`
	MaxPrio       *uint8   `json:"max_prio,omitempty" yaml:"max_prio,omitempty"`
	Resume        bool     `json:"resume,omitempty" yaml:"resume,omitempty"`
	IP            uint64   `json:"ip,omitempty" yaml:"ip,omitempty"`
	SP            uint64   `json:"sp,omitempty" yaml:"sp,omitempty"`
	Flags         uint64   `json:"flags,omitempty" yaml:"flags,omitempty"`
	GPRs          []uint64 `json:"gprs,omitempty" yaml:"gprs,omitempty"`
	MasterFaultEP *uint64  `json:"master_fault_ep,omitempty" yaml:"master_fault_ep,omitempty"`
}

// FillDoc is one fill entry. Exactly one of File, BootInfo or Hex is set.
type FillDoc struct {
	Start      uint64 `json:"start" yaml:"start"`
	End        uint64 `json:"end" yaml:"end"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	FileOffset uint64 `json:"file_offset,omitempty" yaml:"file_offset,omitempty"`
	BootInfo   string `json:"bootinfo,omitempty" yaml:"bootinfo,omitempty"`
	Offset     uint64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	Hex        string `json:"hex,omitempty" yaml:"hex,omitempty"`
}

type PageTableDoc struct {
	IsRoot bool   `json:"is_root,omitempty" yaml:"is_root,omitempty"`
	Level  *uint8 `json:"level,omitempty" yaml:"level,omitempty"`
}

type ASIDPoolDoc struct {
	High uint64 `json:"high" yaml:"high"`
}

type IRQExtraDoc struct {
	Trigger  uint64 `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Target   uint64 `json:"target,omitempty" yaml:"target,omitempty"`
	Handle   uint64 `json:"handle,omitempty" yaml:"handle,omitempty"`
	PCIBus   uint64 `json:"pci_bus,omitempty" yaml:"pci_bus,omitempty"`
	PCIDev   uint64 `json:"pci_dev,omitempty" yaml:"pci_dev,omitempty"`
	PCIFunc  uint64 `json:"pci_func,omitempty" yaml:"pci_func,omitempty"`
	IOAPIC   uint64 `json:"ioapic,omitempty" yaml:"ioapic,omitempty"`
	Pin      uint64 `json:"pin,omitempty" yaml:"pin,omitempty"`
	Level    uint64 `json:"level,omitempty" yaml:"level,omitempty"`
	Polarity uint64 `json:"polarity,omitempty" yaml:"polarity,omitempty"`
}

type SchedContextDoc struct {
	Period uint64 `json:"period" yaml:"period"`
	Budget uint64 `json:"budget" yaml:"budget"`
	Badge  uint64 `json:"badge,omitempty" yaml:"badge,omitempty"`
}

// LoadFile reads and converts a human-readable spec, picking the format from
// the file extension.
func LoadFile(path string) (*Spec, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spec load failed (%s): %w", path, err)
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("spec parse failed (%s): %w", path, err)
	}
	return s, nil
}

// Parse decodes a document and converts it into a validated Spec.
func Parse(data []byte, format Format) (*Spec, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return doc.Spec()
}

// Spec converts the document, resolving object names to indices.
func (d *Document) Spec() (*Spec, error) {
	index := make(map[string]ObjectID, len(d.Objects))
	for i, o := range d.Objects {
		if o.Name == "" {
			continue
		}
		if _, dup := index[o.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateObject, o.Name)
		}
		index[o.Name] = ObjectID(i)
	}
	lookup := func(name string) (ObjectID, error) {
		id, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnresolvedName, name)
		}
		return id, nil
	}

	s := &Spec{Objects: make([]NamedObject, len(d.Objects))}
	for i, o := range d.Objects {
		kind, err := ParseObjectKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Name, err)
		}
		obj, err := o.object(kind, lookup, d.Objects)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Name, err)
		}
		s.Objects[i] = NamedObject{Object: obj}
		if o.Name != "" {
			s.Objects[i].Name = TextName(o.Name)
		}
	}

	for _, irq := range d.IRQs {
		id, err := lookup(irq.Handler)
		if err != nil {
			return nil, fmt.Errorf("irq %d: %w", irq.IRQ, err)
		}
		s.IRQs = append(s.IRQs, IRQEntry{IRQ: Word(irq.IRQ), Handler: id})
	}
	for _, name := range d.ASIDSlots {
		id, err := lookup(name)
		if err != nil {
			return nil, fmt.Errorf("asid slot: %w", err)
		}
		s.ASIDSlots = append(s.ASIDSlots, id)
	}
	for _, c := range d.UntypedCovers {
		parent, err := lookup(c.Parent)
		if err != nil {
			return nil, fmt.Errorf("untyped cover: %w", err)
		}
		s.UntypedCovers = append(s.UntypedCovers, UntypedCover{
			Parent:   parent,
			Children: IDRange{Start: ObjectID(c.Children.Start), End: ObjectID(c.Children.End)},
		})
	}
	switch {
	case d.RootObjects != nil:
		s.RootObjects = IDRange{Start: ObjectID(d.RootObjects.Start), End: ObjectID(d.RootObjects.End)}
	case len(s.UntypedCovers) == 0:
		s.RootObjects = IDRange{Start: 0, End: ObjectID(len(s.Objects))}
	default:
		return nil, specError("root_objects", "required when untyped_covers are declared")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Msgf("spec.Document.Spec objects=%d irqs=%d asid_slots=%d", len(s.Objects), len(s.IRQs), len(s.ASIDSlots))
	return s, nil
}

func (o ObjectDoc) object(kind ObjectKind, lookup func(string) (ObjectID, error), all []ObjectDoc) (Object, error) {
	obj := Object{Kind: kind, SizeBits: o.SizeBits}
	if o.Paddr != nil {
		obj.Paddr = WordPtr(Word(*o.Paddr))
	}
	for _, sd := range o.Slots {
		target, err := lookup(sd.Object)
		if err != nil {
			return Object{}, fmt.Errorf("slot %d: %w", sd.Slot, err)
		}
		targetKind, err := ParseObjectKind(all[target].Kind)
		if err != nil {
			return Object{}, fmt.Errorf("slot %d: %w", sd.Slot, err)
		}
		c := Cap{
			Kind:       targetKind,
			Object:     target,
			Rights:     AllRights(),
			Badge:      Word(sd.Badge),
			Guard:      Word(sd.Guard),
			GuardSize:  sd.GuardSize,
			Cached:     targetKind == KindFrame,
			Executable: sd.Executable && targetKind == KindFrame,
		}
		if len(sd.Rights) > 0 {
			if c.Rights, err = ParseRights(sd.Rights); err != nil {
				return Object{}, fmt.Errorf("slot %d: %w", sd.Slot, err)
			}
		}
		if sd.Cached != nil && targetKind == KindFrame {
			c.Cached = *sd.Cached
		}
		obj.Slots = append(obj.Slots, CapTableEntry{Slot: CapSlot(sd.Slot), Cap: c})
	}

	switch kind {
	case KindTCB:
		t := o.TCB
		if t == nil {
			t = &TCBDoc{}
		}
		extra := &TCBExtra{
			IPCBufferAddr: Word(t.IPCBufferAddr),
			Affinity:      Word(t.Affinity),
			Prio:          t.Prio,
			MaxPrio:       t.Prio,
			Resume:        t.Resume,
			IP:            Word(t.IP),
			SP:            Word(t.SP),
			Flags:         Word(t.Flags),
		}
		if t.MaxPrio != nil {
			extra.MaxPrio = *t.MaxPrio
		}
		for _, g := range t.GPRs {
			extra.GPRs = append(extra.GPRs, Word(g))
		}
		if t.MasterFaultEP != nil {
			extra.MasterFaultEP = WordPtr(Word(*t.MasterFaultEP))
		}
		obj.TCB = extra
	case KindFrame:
		fill, err := parseFill(o.Fill)
		if err != nil {
			return Object{}, err
		}
		obj.Frame = &FrameExtra{Init: FrameInit{Kind: InitFill, Fill: fill}}
	case KindPageTable:
		pt := &PageTableExtra{}
		if o.PageTable != nil {
			pt.IsRoot = o.PageTable.IsRoot
			if o.PageTable.Level != nil {
				pt.Level = Uint8Ptr(*o.PageTable.Level)
			}
		}
		obj.PageTable = pt
	case KindASIDPool:
		pool := &ASIDPoolExtra{}
		if o.ASIDPool != nil {
			pool.High = Word(o.ASIDPool.High)
		}
		obj.ASIDPool = pool
	case KindSchedContext:
		if o.SchedContext != nil {
			obj.SchedContext = &SchedContextExtra{
				Period: o.SchedContext.Period,
				Budget: o.SchedContext.Budget,
				Badge:  Word(o.SchedContext.Badge),
			}
		}
	}
	if kind.IsIRQ() && o.IRQ != nil {
		x := o.IRQ
		obj.IRQ = &IRQExtra{
			Trigger: Word(x.Trigger), Target: Word(x.Target),
			Handle: Word(x.Handle), PCIBus: Word(x.PCIBus), PCIDev: Word(x.PCIDev), PCIFunc: Word(x.PCIFunc),
			IOAPIC: Word(x.IOAPIC), Pin: Word(x.Pin), Level: Word(x.Level), Polarity: Word(x.Polarity),
		}
	}
	if len(o.Fill) > 0 && kind != KindFrame {
		return Object{}, fmt.Errorf("%w: fill on %s", ErrMalformed, kind)
	}
	return obj, nil
}

func parseFill(docs []FillDoc) (Fill, error) {
	var fill Fill
	for i, fd := range docs {
		entry := FillEntry{Range: Range{Start: fd.Start, End: fd.End}}
		set := 0
		if fd.File != "" {
			entry.Content = FileContent(fd.File, fd.FileOffset)
			set++
		}
		if fd.BootInfo != "" {
			id, err := ParseBootInfoID(fd.BootInfo)
			if err != nil {
				return Fill{}, fmt.Errorf("fill %d: %w", i, err)
			}
			entry.Content = BootInfoContent(id, fd.Offset)
			set++
		}
		if fd.Hex != "" {
			data, err := hex.DecodeString(fd.Hex)
			if err != nil {
				return Fill{}, fmt.Errorf("%w: fill %d: %v", ErrMalformed, i, err)
			}
			entry.Content = InlineContent(data)
			set++
		}
		if set != 1 {
			return Fill{}, fmt.Errorf("%w: fill %d needs exactly one of file, bootinfo or hex", ErrMalformed, i)
		}
		fill.Entries = append(fill.Entries, entry)
	}
	return fill, nil
}
