package arch

import (
	"errors"
	"testing"

	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
)

func TestStepBitsFollowLevelTable(t *testing.T) {
	a, err := Lookup("aarch64")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := []uint8{39, 30, 21, 12}
	for level, bits := range want {
		if got := a.StepBits(level); got != bits {
			t.Fatalf("level %d: got %d want %d", level, got, bits)
		}
	}
	r, _ := Lookup("riscv64")
	if got := r.StepBits(0); got != 30 {
		t.Fatalf("riscv64 root step: got %d want 30", got)
	}
}

func TestVMAttributesAreTableDriven(t *testing.T) {
	a, _ := Lookup("aarch64")
	if got := a.VMAttributes(true, true); got != 0x03 {
		t.Fatalf("cached exec: %#x", got)
	}
	if got := a.VMAttributes(false, false); got != 0x04 {
		t.Fatalf("device no-exec: %#x", got)
	}
	x, _ := Lookup("x86_64")
	if got := x.VMAttributes(false, false); got != 0x02 {
		t.Fatalf("x86 uncached: %#x", got)
	}
}

func TestBlueprintAndSizes(t *testing.T) {
	a, _ := Lookup("aarch64")
	cases := []struct {
		obj   spec.Object
		level uint8
		want  kernel.Blueprint
		bits  uint8
	}{
		{spec.Object{Kind: spec.KindCNode, SizeBits: 4}, 0, kernel.Blueprint{Type: kernel.TypeCNode, SizeBits: 4}, 9},
		{spec.Object{Kind: spec.KindTCB}, 0, kernel.Blueprint{Type: kernel.TypeTCB}, 11},
		{spec.Object{Kind: spec.KindFrame, SizeBits: 21}, 0, kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: 21}, 21},
		{spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{IsRoot: true}}, 0, kernel.Blueprint{Type: kernel.TypeVSpace}, 12},
		{spec.Object{Kind: spec.KindPageTable, PageTable: &spec.PageTableExtra{}}, 2, kernel.Blueprint{Type: kernel.TypePageTable, Level: 2}, 12},
		{spec.Object{Kind: spec.KindSchedContext, SizeBits: 4}, 0, kernel.Blueprint{Type: kernel.TypeSchedContext, SizeBits: 8}, 8},
	}
	for _, tc := range cases {
		bp, ok, err := a.Blueprint(&tc.obj, tc.level)
		if err != nil || !ok {
			t.Fatalf("%s: blueprint: ok=%v err=%v", tc.obj.Kind, ok, err)
		}
		if bp != tc.want {
			t.Fatalf("%s: got %v want %v", tc.obj.Kind, bp, tc.want)
		}
		if got := a.ObjectSizeBits(bp); got != tc.bits {
			t.Fatalf("%s: size bits %d want %d", tc.obj.Kind, got, tc.bits)
		}
	}

	if _, ok, _ := a.Blueprint(&spec.Object{Kind: spec.KindIRQ}, 0); ok {
		t.Fatalf("irq handlers are not retyped")
	}
	if _, _, err := a.Blueprint(&spec.Object{Kind: spec.KindFrame, SizeBits: 16}, 0); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
}

func TestUserContext(t *testing.T) {
	r, _ := Lookup("riscv64")
	ctx, err := r.UserContext(&spec.TCBExtra{IP: 0x1000, SP: 0x2000, GPRs: []spec.Word{7, 8}})
	if err != nil {
		t.Fatalf("user context: %v", err)
	}
	if ctx.PC != 0x1000 || ctx.SP != 0x2000 || len(ctx.GPRs) != 2 || ctx.GPRs[1] != 8 {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	if _, err := r.UserContext(&spec.TCBExtra{Flags: 1}); !errors.Is(err, ErrNoFlags) {
		t.Fatalf("expected ErrNoFlags, got %v", err)
	}
	if _, err := r.UserContext(&spec.TCBExtra{GPRs: make([]spec.Word, 31)}); !errors.Is(err, ErrTooManyRegisters) {
		t.Fatalf("expected ErrTooManyRegisters, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := Builtin()
	if got := r.Names(); len(got) != 3 || got[0] != "aarch64" || got[2] != "x86_64" {
		t.Fatalf("unexpected names: %v", got)
	}
	if _, err := r.ByID(IDX86_64); err != nil {
		t.Fatalf("by id: %v", err)
	}
	if err := r.Register(aarch64()); !errors.Is(err, ErrArchExists) {
		t.Fatalf("expected ErrArchExists, got %v", err)
	}
	if _, err := r.Lookup("mips"); !errors.Is(err, ErrUnknownArch) {
		t.Fatalf("expected ErrUnknownArch, got %v", err)
	}
}
