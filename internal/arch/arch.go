// Package arch holds the per-architecture tables the initializer is driven
// by: translation levels, object sizes, mapping attributes and register
// layout. Nothing here is computed at run time beyond table lookups.
package arch

import (
	"errors"
	"fmt"

	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
)

var (
	ErrUnknownArch      = errors.New("arch: unknown architecture")
	ErrArchExists       = errors.New("arch: architecture already registered")
	ErrInvalidArch      = errors.New("arch: invalid architecture table")
	ErrFrameSize        = errors.New("arch: unsupported frame size")
	ErrTooManyRegisters = errors.New("arch: too many general purpose registers")
	ErrNoFlags          = errors.New("arch: architecture has no flags register")
)

// AttrTable maps cacheability and execute permission to attribute words.
type AttrTable struct {
	Default      kernel.VMAttributes
	Uncached     kernel.VMAttributes
	ExecuteNever kernel.VMAttributes
}

// Arch is one architecture's table set.
type Arch struct {
	Name        string
	ID          uint32
	WordBits    uint8
	GranuleBits uint8
	// LevelBits is the index width of each translation level, root first.
	LevelBits  []uint8
	FrameSizes []uint8
	SlotBits   uint8
	EntryBits  uint8
	ObjectBits map[kernel.ObjectType]uint8
	// ASIDPoolBits is the size of the untyped consumed by make-pool.
	ASIDPoolBits uint8
	MinSCBits    uint8
	NumGPRs      int
	HasFlags     bool
	Attrs        AttrTable
}

func (a *Arch) NumLevels() int {
	return len(a.LevelBits)
}

// StepBits is log2 of the address span covered by one entry of a table at
// level.
func (a *Arch) StepBits(level int) uint8 {
	bits := a.GranuleBits
	for _, b := range a.LevelBits[level+1:] {
		bits += b
	}
	return bits
}

// Entries is the number of entries in a table at level.
func (a *Arch) Entries(level int) uint64 {
	return uint64(1) << a.LevelBits[level]
}

// TableBits is the physical size of a translation table at level.
func (a *Arch) TableBits(level int) uint8 {
	return a.LevelBits[level] + a.EntryBits
}

func (a *Arch) ValidFrameSize(bits uint8) bool {
	for _, s := range a.FrameSizes {
		if s == bits {
			return true
		}
	}
	return false
}

// LargestFrameBits is the largest supported frame size.
func (a *Arch) LargestFrameBits() uint8 {
	var largest uint8
	for _, s := range a.FrameSizes {
		if s > largest {
			largest = s
		}
	}
	return largest
}

// VMAttributes translates a frame cap's cacheability and execute permission.
func (a *Arch) VMAttributes(cached, executable bool) kernel.VMAttributes {
	attrs := a.Attrs.Default
	if !cached {
		attrs = a.Attrs.Uncached
	}
	if !executable {
		attrs |= a.Attrs.ExecuteNever
	}
	return attrs
}

// Blueprint maps a spec object onto the retype that creates it. Kinds that
// are not retyped (IRQ handlers, ASID pools) report false.
func (a *Arch) Blueprint(obj *spec.Object, level uint8) (kernel.Blueprint, bool, error) {
	switch obj.Kind {
	case spec.KindUntyped:
		return kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: obj.SizeBits}, true, nil
	case spec.KindEndpoint:
		return kernel.Blueprint{Type: kernel.TypeEndpoint}, true, nil
	case spec.KindNotification:
		return kernel.Blueprint{Type: kernel.TypeNotification}, true, nil
	case spec.KindCNode:
		return kernel.Blueprint{Type: kernel.TypeCNode, SizeBits: obj.SizeBits}, true, nil
	case spec.KindTCB:
		return kernel.Blueprint{Type: kernel.TypeTCB}, true, nil
	case spec.KindVCPU:
		return kernel.Blueprint{Type: kernel.TypeVCPU}, true, nil
	case spec.KindReply:
		return kernel.Blueprint{Type: kernel.TypeReply}, true, nil
	case spec.KindSchedContext:
		bits := obj.SizeBits
		if bits < a.MinSCBits {
			bits = a.MinSCBits
		}
		return kernel.Blueprint{Type: kernel.TypeSchedContext, SizeBits: bits}, true, nil
	case spec.KindFrame:
		if !a.ValidFrameSize(obj.SizeBits) {
			return kernel.Blueprint{}, false, fmt.Errorf("%w: %d bits on %s", ErrFrameSize, obj.SizeBits, a.Name)
		}
		return kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: obj.SizeBits}, true, nil
	case spec.KindPageTable:
		if obj.IsRootPageTable() {
			return kernel.Blueprint{Type: kernel.TypeVSpace}, true, nil
		}
		if int(level) == 0 || int(level) >= a.NumLevels() {
			return kernel.Blueprint{}, false, fmt.Errorf("%w: page table level %d on %s", ErrInvalidArch, level, a.Name)
		}
		return kernel.Blueprint{Type: kernel.TypePageTable, Level: level}, true, nil
	default:
		return kernel.Blueprint{}, false, nil
	}
}

// ObjectSizeBits is the physical size a blueprint consumes from untyped
// memory.
func (a *Arch) ObjectSizeBits(bp kernel.Blueprint) uint8 {
	switch bp.Type {
	case kernel.TypeUntyped, kernel.TypeFrame, kernel.TypeSchedContext:
		return bp.SizeBits
	case kernel.TypeCNode:
		return bp.SizeBits + a.SlotBits
	case kernel.TypePageTable:
		return a.TableBits(int(bp.Level))
	case kernel.TypeVSpace:
		return a.TableBits(0)
	default:
		return a.ObjectBits[bp.Type]
	}
}

// UserContext lays a thread's declared registers out for write-registers.
func (a *Arch) UserContext(t *spec.TCBExtra) (kernel.UserContext, error) {
	if len(t.GPRs) > a.NumGPRs {
		return kernel.UserContext{}, fmt.Errorf("%w: %d declared, %s has %d", ErrTooManyRegisters, len(t.GPRs), a.Name, a.NumGPRs)
	}
	if t.Flags != 0 && !a.HasFlags {
		return kernel.UserContext{}, fmt.Errorf("%w: %s", ErrNoFlags, a.Name)
	}
	ctx := kernel.UserContext{
		PC:    uint64(t.IP),
		SP:    uint64(t.SP),
		Flags: uint64(t.Flags),
		GPRs:  make([]kernel.Word, len(t.GPRs)),
	}
	for i, g := range t.GPRs {
		ctx.GPRs[i] = uint64(g)
	}
	return ctx, nil
}

func (a *Arch) validate() error {
	switch {
	case a.Name == "" || a.ID == 0:
		return fmt.Errorf("%w: name and id are required", ErrInvalidArch)
	case len(a.LevelBits) == 0:
		return fmt.Errorf("%w: %s has no translation levels", ErrInvalidArch, a.Name)
	case !a.ValidFrameSize(a.GranuleBits):
		return fmt.Errorf("%w: %s granule is not a frame size", ErrInvalidArch, a.Name)
	}
	return nil
}
