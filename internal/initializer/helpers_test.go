package initializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/kernel/sim"
	"github.com/danmuck/capinit/internal/resolve"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/testutil/testlog"
)

// graph builds specs for tests. Every object is a root object unless
// roots is set.
type graph struct {
	sp    spec.Spec
	roots *spec.IDRange
}

func (g *graph) add(name string, obj spec.Object) spec.ObjectID {
	var n spec.Name
	if name != "" {
		n = spec.TextName(name)
	}
	g.sp.Objects = append(g.sp.Objects, spec.NamedObject{Name: n, Object: obj})
	return spec.ObjectID(len(g.sp.Objects) - 1)
}

func (g *graph) kind(id spec.ObjectID) spec.ObjectKind {
	return g.sp.Objects[id].Object.Kind
}

func (g *graph) slot(owner spec.ObjectID, slot spec.CapSlot, target spec.ObjectID) {
	c := spec.Cap{Kind: g.kind(target), Object: target, Rights: spec.AllRights()}
	c.Cached = c.Kind == spec.KindFrame
	g.put(owner, slot, c)
}

func (g *graph) put(owner spec.ObjectID, slot spec.CapSlot, c spec.Cap) {
	obj := &g.sp.Objects[owner].Object
	obj.Slots = append(obj.Slots, spec.CapTableEntry{Slot: slot, Cap: c})
}

func (g *graph) build() *spec.Spec {
	sp := g.sp
	if g.roots != nil {
		sp.RootObjects = *g.roots
	} else {
		sp.RootObjects = spec.IDRange{Start: 0, End: spec.ObjectID(len(sp.Objects))}
	}
	return &sp
}

func cnode(bits uint8) spec.Object {
	return spec.Object{Kind: spec.KindCNode, SizeBits: bits}
}

func tcb(prio uint8, resume bool) spec.Object {
	return spec.Object{Kind: spec.KindTCB, TCB: &spec.TCBExtra{Prio: prio, MaxPrio: prio, Resume: resume}}
}

func vspaceRoot() spec.Object {
	return spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{IsRoot: true}}
}

func pageTable() spec.Object {
	return spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{}}
}

func frame(bits uint8, entries ...spec.FillEntry) spec.Object {
	return spec.Object{
		Kind:     spec.KindFrame,
		SizeBits: bits,
		Frame:    &spec.FrameExtra{Init: spec.FrameInit{Kind: spec.InitFill, Fill: spec.Fill{Entries: entries}}},
	}
}

func inline(start uint64, data []byte) spec.FillEntry {
	return spec.FillEntry{
		Range:   spec.Range{Start: start, End: start + uint64(len(data))},
		Content: spec.InlineContent(data),
	}
}

type env struct {
	k    *sim.Kernel
	arch *arch.Arch
	bi   kernel.BootInfo
}

func boot(t *testing.T, mutate func(*sim.Config)) *env {
	t.Helper()
	testlog.Start(t)
	a, err := arch.Lookup("aarch64")
	require.NoError(t, err)
	cfg := sim.Config{
		Arch:    a,
		Untyped: []sim.UntypedConfig{{Paddr: 0x1000000, SizeBits: 22}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := sim.New(cfg)
	require.NoError(t, err)
	return &env{k: k, arch: a, bi: k.BootInfo()}
}

func (e *env) config(sp *spec.Spec, src resolve.Source) Config {
	return Config{
		Kernel:       e.k,
		Memory:       e.k,
		BootInfo:     &e.bi,
		Arch:         e.arch,
		Spec:         sp,
		Source:       src,
		ImageVaddr:   e.k.ImageVaddr(),
		SidecarVaddr: e.k.ImageVaddr(),
	}
}

func (e *env) run(t *testing.T, sp *spec.Spec, src resolve.Source, mutate func(*Config)) (*Report, error) {
	t.Helper()
	cfg := e.config(sp, src)
	if mutate != nil {
		mutate(&cfg)
	}
	return Run(cfg)
}

// object returns the simulator object behind id's original cap.
func (e *env) object(t *testing.T, r *Report, id spec.ObjectID) *sim.Object {
	t.Helper()
	c, ok := e.k.Cap(r.Caps[id])
	require.True(t, ok, "object %d has no cap", id)
	return c.Object
}
