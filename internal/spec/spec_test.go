package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
objects:
  - name: cnode
    kind: cnode
    size_bits: 2
    slots:
      - {slot: 1, object: ep, rights: [read, write], badge: 7}
  - name: vspace
    kind: page_table
    page_table: {is_root: true}
    slots:
      - {slot: 0, object: pt}
  - name: pt
    kind: page_table
    slots:
      - {slot: 3, object: frame, executable: true}
  - name: frame
    kind: frame
    size_bits: 12
    fill:
      - {start: 0, end: 4, hex: "deadbeef"}
      - {start: 16, end: 32, file: "app.bin", file_offset: 64}
  - name: ep
    kind: endpoint
  - name: tcb
    kind: tcb
    tcb: {ip: 0x400000, sp: 0x800000, prio: 100, gprs: [1, 2]}
    slots:
      - {slot: 0, object: cnode, guard_size: 62}
      - {slot: 1, object: vspace}
`

func TestParseYAMLResolvesNamesAndDefaults(t *testing.T) {
	s, err := Parse([]byte(minimalYAML), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, 6, s.Len())
	assert.Equal(t, IDRange{Start: 0, End: 6}, s.RootObjects)

	cnode := s.MustGet(0)
	assert.Equal(t, "cnode", cnode.Name.Text)
	ep, ok := cnode.Object.Slot(1)
	require.True(t, ok)
	assert.Equal(t, KindEndpoint, ep.Kind)
	assert.Equal(t, ObjectID(4), ep.Object)
	assert.Equal(t, Rights{Read: true, Write: true}, ep.Rights)
	assert.Equal(t, Word(7), ep.Badge)
	assert.True(t, ep.NeedsMint())

	tcb := s.MustGet(5).Object
	require.NotNil(t, tcb.TCB)
	assert.Equal(t, Word(0x400000), tcb.TCB.IP)
	assert.Equal(t, uint8(100), tcb.TCB.MaxPrio)
	assert.Equal(t, []Word{1, 2}, tcb.TCB.GPRs)
	cspace, ok := tcb.CSpace()
	require.True(t, ok)
	assert.Equal(t, Word(62), cspace.GuardData())

	pt := s.MustGet(2).Object
	frameCap, ok := pt.Slot(3)
	require.True(t, ok)
	assert.True(t, frameCap.Cached)
	assert.True(t, frameCap.Executable)
	assert.Equal(t, AllRights(), frameCap.Rights)

	fill, ok := s.MustGet(3).Object.FrameFill()
	require.True(t, ok)
	require.Len(t, fill.Entries, 2)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, fill.Entries[0].Content.Data)
	assert.Equal(t, ContentFile, fill.Entries[1].Content.Kind)
	assert.False(t, s.IsPackaged())
}

func TestParseJSONRejectsDuplicateAndUnresolvedNames(t *testing.T) {
	_, err := Parse([]byte(`{"objects":[{"name":"a","kind":"endpoint"},{"name":"a","kind":"endpoint"}]}`), FormatJSON)
	assert.ErrorIs(t, err, ErrDuplicateObject)

	_, err = Parse([]byte(`{"objects":[{"name":"c","kind":"cnode","size_bits":1,"slots":[{"slot":0,"object":"nope"}]}]}`), FormatJSON)
	assert.ErrorIs(t, err, ErrUnresolvedName)

	_, err = Parse([]byte(`{"objects":[{"name":"a","kind":"widget"}]}`), FormatJSON)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestValidateRejectsSlotOutsideCNode(t *testing.T) {
	s := &Spec{
		Objects: []NamedObject{
			{Object: Object{Kind: KindCNode, SizeBits: 1, Slots: []CapTableEntry{{Slot: 2, Cap: Cap{Kind: KindEndpoint, Object: 1}}}}},
			{Object: Object{Kind: KindEndpoint}},
		},
		RootObjects: IDRange{Start: 0, End: 2},
	}
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Object)
	assert.Equal(t, ObjectID(0), *verr.Object)
}

func TestValidateRejectsCapKindMismatch(t *testing.T) {
	s := &Spec{
		Objects: []NamedObject{
			{Object: Object{Kind: KindCNode, SizeBits: 1, Slots: []CapTableEntry{{Slot: 0, Cap: Cap{Kind: KindNotification, Object: 1}}}}},
			{Object: Object{Kind: KindEndpoint}},
		},
		RootObjects: IDRange{Start: 0, End: 2},
	}
	assert.ErrorIs(t, s.Validate(), ErrMalformed)
}

func TestValidateRequiresExactlyOneCreationPath(t *testing.T) {
	s := &Spec{
		Objects: []NamedObject{
			{Object: Object{Kind: KindEndpoint}},
			{Object: Object{Kind: KindEndpoint}},
		},
		RootObjects: IDRange{Start: 0, End: 1},
	}
	assert.ErrorIs(t, s.Validate(), ErrMalformed)

	s.RootObjects = IDRange{Start: 0, End: 2}
	assert.NoError(t, s.Validate())

	s.Objects = append(s.Objects, NamedObject{Object: Object{Kind: KindUntyped, SizeBits: 12}})
	s.RootObjects = IDRange{Start: 0, End: 3}
	s.UntypedCovers = []UntypedCover{{Parent: 2, Children: IDRange{Start: 1, End: 2}}}
	assert.ErrorIs(t, s.Validate(), ErrMalformed)

	s.RootObjects = IDRange{Start: 2, End: 3}
	s.UntypedCovers = []UntypedCover{{Parent: 2, Children: IDRange{Start: 0, End: 2}}}
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsFillOutsideFrame(t *testing.T) {
	s := &Spec{
		Objects: []NamedObject{{Object: Object{
			Kind:     KindFrame,
			SizeBits: 12,
			Frame: &FrameExtra{Init: FrameInit{Fill: Fill{Entries: []FillEntry{
				{Range: Range{Start: 4000, End: 5000}, Content: BytesContent(Range{Start: 0, End: 1000})},
			}}}},
		}}},
		RootObjects: IDRange{Start: 0, End: 1},
	}
	assert.ErrorIs(t, s.Validate(), ErrMalformed)
}

func TestPopulationOrderPutsRootSlotsFirst(t *testing.T) {
	o := Object{Kind: KindCNode, SizeBits: 3, Slots: []CapTableEntry{
		{Slot: 5}, {Slot: 1}, {Slot: 3}, {Slot: 0},
	}}
	var got []CapSlot
	for _, e := range o.PopulationOrder() {
		got = append(got, e.Slot)
	}
	assert.Equal(t, []CapSlot{0, 1, 3, 5}, got)
	assert.Equal(t, CapSlot(5), o.Slots[0].Slot, "population order must not reorder the object")
}

func TestPageTableLevels(t *testing.T) {
	s, err := Parse([]byte(minimalYAML), FormatYAML)
	require.NoError(t, err)
	levels, err := s.PageTableLevels()
	require.NoError(t, err)
	assert.Equal(t, map[ObjectID]uint8{1: 0, 2: 1}, levels)

	s.Objects[2].Object.PageTable.Level = Uint8Ptr(3)
	_, err = s.PageTableLevels()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCanEmbed(t *testing.T) {
	s, err := Parse([]byte(minimalYAML), FormatYAML)
	require.NoError(t, err)
	assert.True(t, s.CanEmbed(3, 12))
	assert.False(t, s.CanEmbed(3, 14), "size must equal the granule")
	assert.False(t, s.CanEmbed(4, 12), "endpoints are not frames")

	s.Objects[3].Object.Paddr = WordPtr(0x1000)
	assert.False(t, s.CanEmbed(3, 12))
	s.Objects[3].Object.Paddr = nil

	s.Objects[3].Object.Frame.Init.Fill.Entries = append(s.Objects[3].Object.Frame.Init.Fill.Entries,
		FillEntry{Range: Range{Start: 64, End: 72}, Content: BootInfoContent(BootInfoFDT, 0)})
	assert.False(t, s.CanEmbed(3, 12))
}

func TestFootprintCoversResolvedBytes(t *testing.T) {
	s, err := Parse([]byte(minimalYAML), FormatYAML)
	require.NoError(t, err)
	var resolved uint64
	for i := range s.Objects {
		resolved += uint64(len(s.Objects[i].Name.Text))
		if fill, ok := s.Objects[i].Object.FrameFill(); ok {
			for _, e := range fill.Entries {
				resolved += e.Range.Len()
			}
		}
	}
	assert.GreaterOrEqual(t, s.Footprint(), resolved)
	fill, _ := s.MustGet(3).Object.FrameFill()
	assert.Equal(t, uint64(20), fill.ContentFootprint())
	assert.Equal(t, uint64(16), fill.MaxEntryLen())
}

func TestTransformKeepsStructure(t *testing.T) {
	s, err := Parse([]byte(minimalYAML), FormatYAML)
	require.NoError(t, err)
	out, err := s.Transform(
		func(id ObjectID, _ *NamedObject) (Name, error) {
			return IndirectName(Range{Start: uint64(id), End: uint64(id) + 1}), nil
		},
		func(_ ObjectID, e FillEntry) (Content, error) {
			return BytesContent(Range{Start: 0, End: e.Range.Len()}), nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, NameText, s.Objects[0].Name.Kind, "transform must not mutate its input")
	assert.Equal(t, NameIndirect, out.Objects[0].Name.Kind)
	assert.Equal(t, s.Objects[5].Object.Slots, out.Objects[5].Object.Slots)
	assert.True(t, out.IsPackaged())
	require.NoError(t, out.Validate())
}

func TestRightsBitsRoundTrip(t *testing.T) {
	for b := uint8(0); b < 16; b++ {
		assert.Equal(t, b, RightsFromBits(b).Bits())
	}
	assert.Equal(t, "RW--", Rights{Read: true, Write: true}.String())
}
