package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire/frame"
	"github.com/danmuck/capinit/internal/wire/tlv"
	"github.com/google/go-cmp/cmp"
)

func sampleSpec() *spec.Spec {
	level := uint8(1)
	return &spec.Spec{
		Objects: []spec.NamedObject{
			{Name: spec.TextName("cnode"), Object: spec.Object{Kind: spec.KindCNode, SizeBits: 4, Slots: []spec.CapTableEntry{
				{Slot: 0, Cap: spec.Cap{Kind: spec.KindCNode, Object: 0, Rights: spec.AllRights(), GuardSize: 60}},
				{Slot: 2, Cap: spec.Cap{Kind: spec.KindEndpoint, Object: 2, Rights: spec.Rights{Read: true}, Badge: 9}},
			}}},
			{Name: spec.IndirectName(spec.Range{Start: 0, End: 3}), Object: spec.Object{Kind: spec.KindTCB, TCB: &spec.TCBExtra{
				IPCBufferAddr: 0x5000, Prio: 10, MaxPrio: 20, Resume: true, IP: 0x401000, SP: 0x7ff000,
				Flags: 0x3c5, GPRs: []spec.Word{1, 2, 3}, MasterFaultEP: spec.WordPtr(4),
			}, Slots: []spec.CapTableEntry{
				{Slot: spec.SlotTCBCSpace, Cap: spec.Cap{Kind: spec.KindCNode, Object: 0, Rights: spec.AllRights()}},
				{Slot: spec.SlotTCBVSpace, Cap: spec.Cap{Kind: spec.KindPageTable, Object: 3, Rights: spec.AllRights()}},
			}}},
			{Object: spec.Object{Kind: spec.KindEndpoint}},
			{Object: spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{IsRoot: true}, Slots: []spec.CapTableEntry{
				{Slot: 1, Cap: spec.Cap{Kind: spec.KindPageTable, Object: 4, Rights: spec.AllRights()}},
			}}},
			{Object: spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{Level: &level}, Slots: []spec.CapTableEntry{
				{Slot: 7, Cap: spec.Cap{Kind: spec.KindFrame, Object: 5, Rights: spec.Rights{Read: true}, Cached: true, Executable: true}},
			}}},
			{Object: spec.Object{Kind: spec.KindFrame, SizeBits: 12, Paddr: spec.WordPtr(0x9000_0000), Frame: &spec.FrameExtra{Init: spec.FrameInit{Fill: spec.Fill{Entries: []spec.FillEntry{
				{Range: spec.Range{Start: 0, End: 4}, Content: spec.BytesContent(spec.Range{Start: 3, End: 7})},
				{Range: spec.Range{Start: 8, End: 4096}, Content: spec.DeflatedContent(spec.Range{Start: 7, End: 20})},
				{Range: spec.Range{Start: 4, End: 6}, Content: spec.InlineContent([]byte{1, 2})},
				{Range: spec.Range{Start: 6, End: 8}, Content: spec.BootInfoContent(spec.BootInfoFDT, 16)},
			}}}}}},
			{Object: spec.Object{Kind: spec.KindArmIRQ, IRQ: &spec.IRQExtra{Trigger: 1, Target: 2}, Slots: []spec.CapTableEntry{
				{Slot: 0, Cap: spec.Cap{Kind: spec.KindNotification, Object: 7, Rights: spec.AllRights()}},
			}}},
			{Object: spec.Object{Kind: spec.KindNotification}},
			{Object: spec.Object{Kind: spec.KindASIDPool, ASIDPool: &spec.ASIDPoolExtra{High: 1}}},
			{Object: spec.Object{Kind: spec.KindSchedContext, SizeBits: 8, SchedContext: &spec.SchedContextExtra{Period: 1000, Budget: 500, Badge: 3}}},
			{Object: spec.Object{Kind: spec.KindUntyped, SizeBits: 16}},
			{Object: spec.Object{Kind: spec.KindReply}},
		},
		IRQs:          []spec.IRQEntry{{IRQ: 27, Handler: 6}},
		ASIDSlots:     []spec.ObjectID{8},
		RootObjects:   spec.IDRange{Start: 0, End: 11},
		UntypedCovers: []spec.UntypedCover{{Parent: 10, Children: spec.IDRange{Start: 11, End: 12}}},
	}
}

func TestPrefixRoundTrip(t *testing.T) {
	in := sampleSpec()
	if err := in.Validate(); err != nil {
		t.Fatalf("sample spec invalid: %v", err)
	}
	out, err := DecodePrefix(EncodePrefix(in))
	if err != nil {
		t.Fatalf("decode prefix: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("prefix round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	in := sampleSpec()
	sidecar := []byte("tcbabcd0123456789abcdefghij")
	data, err := Marshal(in, sidecar, nil, Options{Arch: 1, GranuleBits: 12})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pkg, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pkg.Header.Arch != 1 || pkg.Header.Flags&frame.FlagEmbeddedFrames != 0 {
		t.Fatalf("unexpected header: %+v", pkg.Header)
	}
	if !bytes.Equal(pkg.Sidecar, sidecar) {
		t.Fatalf("sidecar mismatch")
	}
	if diff := cmp.Diff(in, pkg.Spec); diff != "" {
		t.Fatalf("spec mismatch (-want +got):\n%s", diff)
	}
	name, ok, err := pkg.Source().Name(pkg.Spec.Objects[1].Name)
	if err != nil || !ok || name != "tcb" {
		t.Fatalf("name resolution: %q %v %v", name, ok, err)
	}
}

func TestMarshalAlignsEmbeddedFrames(t *testing.T) {
	const granuleBits = 12
	granule := 1 << granuleBits
	s := &spec.Spec{
		Objects: []spec.NamedObject{
			{Object: spec.Object{Kind: spec.KindFrame, SizeBits: granuleBits, Frame: &spec.FrameExtra{Init: spec.FrameInit{Kind: spec.InitEmbedded, Embedded: spec.EmbeddedFrame{Offset: uint64(granule)}}}}},
			{Object: spec.Object{Kind: spec.KindFrame, SizeBits: granuleBits, Frame: &spec.FrameExtra{Init: spec.FrameInit{Kind: spec.InitEmbedded, Embedded: spec.EmbeddedFrame{Offset: 0}}}}},
		},
		RootObjects: spec.IDRange{Start: 0, End: 2},
	}
	frames := [][]byte{bytes.Repeat([]byte{0xa1}, granule), bytes.Repeat([]byte{0xb2}, granule)}
	data, err := Marshal(s, []byte("names"), frames, Options{GranuleBits: granuleBits})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	v, err := Open(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.Header().Flags&frame.FlagEmbeddedFrames == 0 {
		t.Fatalf("embedded flag not set")
	}
	for id, want := range map[spec.ObjectID]byte{0: 0xb2, 1: 0xa1} {
		obj, err := v.Object(id)
		if err != nil {
			t.Fatalf("object %d: %v", id, err)
		}
		blobOff := v.SidecarOffset() + obj.Object.Frame.Init.Embedded.Offset
		if blobOff%uint64(granule) != 0 {
			t.Fatalf("object %d embedded at unaligned blob offset %d", id, blobOff)
		}
		page := data[blobOff : blobOff+uint64(granule)]
		if page[0] != want || page[granule-1] != want {
			t.Fatalf("object %d maps the wrong page: %#x", id, page[0])
		}
	}
	if s.Objects[0].Object.Frame.Init.Embedded.Offset != uint64(granule) {
		t.Fatalf("marshal must not mutate its input")
	}
}

func TestMarshalRejectsBadEmbeddedLayout(t *testing.T) {
	s := &spec.Spec{
		Objects: []spec.NamedObject{
			{Object: spec.Object{Kind: spec.KindFrame, SizeBits: 12, Frame: &spec.FrameExtra{Init: spec.FrameInit{Kind: spec.InitEmbedded, Embedded: spec.EmbeddedFrame{Offset: 4096}}}}},
		},
		RootObjects: spec.IDRange{Start: 0, End: 1},
	}
	_, err := Marshal(s, nil, [][]byte{make([]byte, 4096)}, Options{GranuleBits: 12})
	if !errors.Is(err, ErrEmbeddedLayout) {
		t.Fatalf("expected ErrEmbeddedLayout, got %v", err)
	}
	_, err = Marshal(s, nil, [][]byte{make([]byte, 100)}, Options{GranuleBits: 12})
	if !errors.Is(err, ErrEmbeddedLayout) {
		t.Fatalf("expected ErrEmbeddedLayout for short frame, got %v", err)
	}
}

func TestDecodePrefixRejectsMissingFields(t *testing.T) {
	prefix := tlv.EncodeFields([]tlv.Field{tlv.Record(1)})
	_, err := DecodePrefix(prefix)
	if !errors.Is(err, ErrMalformedPrefix) {
		t.Fatalf("expected ErrMalformedPrefix, got %v", err)
	}
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %T", err)
	}
}

func TestViewDecodesLazily(t *testing.T) {
	data, err := Marshal(sampleSpec(), make([]byte, 32), nil, Options{GranuleBits: 12})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	v, err := Open(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.NumObjects() != 12 {
		t.Fatalf("unexpected object count: %d", v.NumObjects())
	}
	obj, err := v.Object(9)
	if err != nil {
		t.Fatalf("object: %v", err)
	}
	if obj.Object.Kind != spec.KindSchedContext || obj.Object.SchedContext.Budget != 500 {
		t.Fatalf("unexpected object: %+v", obj.Object)
	}
	if _, err := v.Object(12); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
}
