// Package untyped tracks the untyped memory handed over at boot and decides
// which region every retype is carved from.
package untyped

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/kernel"
)

const minUntypedBits = 4

var (
	ErrExhausted        = errors.New("untyped: no region can hold the object")
	ErrPaddrUnavailable = errors.New("untyped: physical address unavailable")
	ErrDeviceObject     = errors.New("untyped: device memory can only hold frames and untypeds")
	ErrUnknownTieBreak  = errors.New("untyped: unknown tie-break policy")
)

// TieBreak chooses between regions that satisfy a request equally well.
type TieBreak uint8

const (
	TieBreakListOrder TieBreak = iota
	TieBreakLowestPaddr
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakListOrder:
		return "list_order"
	case TieBreakLowestPaddr:
		return "lowest_paddr"
	default:
		return fmt.Sprintf("tie_break(%d)", uint8(t))
	}
}

func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "list_order", "list":
		return TieBreakListOrder, nil
	case "lowest_paddr", "paddr":
		return TieBreakLowestPaddr, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTieBreak, s)
	}
}

// Policy configures region selection.
type Policy struct {
	TieBreak TieBreak
}

// Region is one untyped cap and how much of it has been used.
type Region struct {
	CPtr      kernel.CPtr
	Paddr     kernel.Word
	SizeBits  uint8
	Device    bool
	Watermark kernel.Word
	// Parent is the index of the region a split was carved from, or -1 for
	// regions handed over at boot.
	Parent int
	// Reserved regions back spec-declared untyped objects; only their
	// declared children are carved from them.
	Reserved bool
}

func (r *Region) Size() kernel.Word {
	return kernel.Word(1) << r.SizeBits
}

func (r *Region) Free() kernel.Word {
	return r.Size() - r.Watermark
}

// offset is where the kernel would place an object of sizeBits next.
func (r *Region) offset(sizeBits uint8) (kernel.Word, bool) {
	if sizeBits > r.SizeBits {
		return 0, false
	}
	size := kernel.Word(1) << sizeBits
	off := alignUp(r.Watermark, size)
	if off+size > r.Size() {
		return 0, false
	}
	return off, true
}

// Placement records where one object was carved.
type Placement struct {
	Dst      kernel.CPtr
	Region   int
	Paddr    kernel.Word
	SizeBits uint8
}

// Stats summarizes pool usage. Padding splits count as used in their parent
// and contribute their own free space.
type Stats struct {
	Regions   int
	Splits    int
	Total     kernel.Word
	Used      kernel.Word
	Free      kernel.Word
	Retypes   int
	Placed    kernel.Word
	Exhausted int
}

// SlotSource supplies slots for the untyped caps created by padding splits.
type SlotSource interface {
	Alloc() (kernel.CPtr, error)
}

// Allocator owns the untyped pool for one reconstruction pass.
type Allocator struct {
	policy     Policy
	regions    []Region
	placements []Placement
	exhausted  int
}

// NewAllocator copies regions into a fresh pool.
func NewAllocator(regions []Region, policy Policy) *Allocator {
	a := &Allocator{policy: policy, regions: make([]Region, len(regions))}
	copy(a.regions, regions)
	for i := range a.regions {
		a.regions[i].Parent = -1
	}
	return a
}

// FromBootInfo builds the pool from the kernel's untyped list.
func FromBootInfo(bi *kernel.BootInfo, policy Policy) *Allocator {
	regions := make([]Region, 0, len(bi.UntypedList))
	for i, u := range bi.UntypedList {
		regions = append(regions, Region{
			CPtr:     bi.UntypedCPtr(i),
			Paddr:    u.Paddr,
			SizeBits: u.SizeBits,
			Device:   u.IsDevice,
		})
	}
	return NewAllocator(regions, policy)
}

// Regions returns a snapshot of the pool.
func (a *Allocator) Regions() []Region {
	return append([]Region(nil), a.regions...)
}

// Placements returns every object placed so far, in order.
func (a *Allocator) Placements() []Placement {
	return append([]Placement(nil), a.placements...)
}

// Select picks the region for an object of sizeBits. An exact fit (aligned
// remaining capacity equal to the object size) wins over any larger region;
// otherwise the smallest remaining capacity wins; ties go to the policy.
func (a *Allocator) Select(sizeBits uint8, device bool) (int, error) {
	best := -1
	var bestRemain, bestPaddr kernel.Word
	for i := range a.regions {
		r := &a.regions[i]
		if r.Reserved || r.Device != device {
			continue
		}
		off, ok := r.offset(sizeBits)
		if !ok {
			continue
		}
		remain := r.Size() - off
		paddr := r.Paddr + off
		switch {
		case best < 0, remain < bestRemain:
		case remain == bestRemain && a.policy.TieBreak == TieBreakLowestPaddr && paddr < bestPaddr:
		default:
			continue
		}
		best, bestRemain, bestPaddr = i, remain, paddr
	}
	if best < 0 {
		a.exhausted++
		return -1, a.exhaustion(sizeBits, device)
	}
	return best, nil
}

// Retype carves bp (occupying sizeBits of untyped memory) into dst.
func (a *Allocator) Retype(k kernel.Kernel, bp kernel.Blueprint, sizeBits uint8, dst kernel.CPtr) (Placement, error) {
	idx, err := a.Select(sizeBits, false)
	if err != nil {
		return Placement{}, err
	}
	return a.retypeFrom(k, idx, bp, sizeBits, dst)
}

// RetypeFrom carves bp out of a specific region, used for children of a
// spec-declared untyped.
func (a *Allocator) RetypeFrom(k kernel.Kernel, region int, bp kernel.Blueprint, sizeBits uint8, dst kernel.CPtr) (Placement, error) {
	if region < 0 || region >= len(a.regions) {
		return Placement{}, fmt.Errorf("untyped: region %d out of range", region)
	}
	r := &a.regions[region]
	if r.Device && !deviceOK(bp.Type) {
		return Placement{}, fmt.Errorf("%w: %s", ErrDeviceObject, bp)
	}
	if _, ok := r.offset(sizeBits); !ok {
		a.exhausted++
		return Placement{}, a.exhaustion(sizeBits, r.Device)
	}
	return a.retypeFrom(k, region, bp, sizeBits, dst)
}

func (a *Allocator) retypeFrom(k kernel.Kernel, idx int, bp kernel.Blueprint, sizeBits uint8, dst kernel.CPtr) (Placement, error) {
	r := &a.regions[idx]
	off, _ := r.offset(sizeBits)
	if err := k.UntypedRetype(r.CPtr, bp, dst); err != nil {
		return Placement{}, err
	}
	r.Watermark = off + kernel.Word(1)<<sizeBits
	p := Placement{Dst: dst, Region: idx, Paddr: r.Paddr + off, SizeBits: sizeBits}
	a.placements = append(a.placements, p)
	log.Trace().Msgf("untyped.Allocator.retype blueprint=%s region=%d paddr=%#x dst=%d", bp, idx, p.Paddr, dst)
	return p, nil
}

// Reserve registers a spec-declared untyped object, placed by p, as a
// region that only RetypeFrom carves from. It returns the region index.
func (a *Allocator) Reserve(p Placement) int {
	a.regions = append(a.regions, Region{
		CPtr:     p.Dst,
		Paddr:    p.Paddr,
		SizeBits: p.SizeBits,
		Device:   a.regions[p.Region].Device,
		Parent:   p.Region,
		Reserved: true,
	})
	return len(a.regions) - 1
}

// RetypeAt places bp at exactly paddr. The region's watermark is first
// advanced to paddr by retyping maximal aligned untyped splits into slots
// from slots; those splits rejoin the pool.
func (a *Allocator) RetypeAt(k kernel.Kernel, bp kernel.Blueprint, sizeBits uint8, paddr kernel.Word, dst kernel.CPtr, slots SlotSource) (Placement, error) {
	size := kernel.Word(1) << sizeBits
	if paddr%size != 0 {
		return Placement{}, fmt.Errorf("%w: %#x not aligned to %d bits", ErrPaddrUnavailable, paddr, sizeBits)
	}
	idx := -1
	for i := range a.regions {
		r := &a.regions[i]
		if r.Parent >= 0 {
			continue
		}
		if paddr >= r.Paddr && paddr+size <= r.Paddr+r.Size() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Placement{}, fmt.Errorf("%w: no untyped covers [%#x, %#x)", ErrPaddrUnavailable, paddr, paddr+size)
	}
	if a.regions[idx].Device && !deviceOK(bp.Type) {
		return Placement{}, fmt.Errorf("%w: %s at %#x", ErrDeviceObject, bp, paddr)
	}
	target := paddr - a.regions[idx].Paddr
	if a.regions[idx].Watermark > target {
		return Placement{}, fmt.Errorf("%w: %#x is below the watermark of the region at %#x", ErrPaddrUnavailable, paddr, a.regions[idx].Paddr)
	}
	for a.regions[idx].Watermark < target {
		r := a.regions[idx]
		cur := r.Watermark
		bits := largestSplit(cur, target, r.SizeBits)
		if bits < minUntypedBits {
			return Placement{}, fmt.Errorf("%w: %d byte gap below %#x", ErrPaddrUnavailable, target-cur, paddr)
		}
		hold, err := slots.Alloc()
		if err != nil {
			return Placement{}, err
		}
		if err := k.UntypedRetype(r.CPtr, kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: bits}, hold); err != nil {
			return Placement{}, err
		}
		a.regions[idx].Watermark = cur + kernel.Word(1)<<bits
		a.regions = append(a.regions, Region{
			CPtr:     hold,
			Paddr:    r.Paddr + cur,
			SizeBits: bits,
			Device:   r.Device,
			Parent:   idx,
		})
		log.Trace().Msgf("untyped.Allocator.RetypeAt split paddr=%#x size_bits=%d hold=%d", r.Paddr+cur, bits, hold)
	}
	return a.retypeFrom(k, idx, bp, sizeBits, dst)
}

// largestSplit is the largest power of two aligned at cur that ends at or
// before target.
func largestSplit(cur, target kernel.Word, limit uint8) uint8 {
	var bits uint8
	for b := limit; b > 0; b-- {
		size := kernel.Word(1) << b
		if cur%size == 0 && cur+size <= target {
			bits = b
			break
		}
	}
	return bits
}

// Stats reports pool usage.
func (a *Allocator) Stats() Stats {
	s := Stats{Retypes: len(a.placements), Exhausted: a.exhausted}
	for i := range a.regions {
		r := &a.regions[i]
		if r.Parent < 0 {
			s.Regions++
			s.Total += r.Size()
		} else if !r.Reserved {
			s.Splits++
		}
		if !r.Reserved {
			s.Free += r.Free()
		}
	}
	s.Used = s.Total - s.Free
	for _, p := range a.placements {
		if !a.regions[p.Region].Reserved {
			s.Placed += kernel.Word(1) << p.SizeBits
		}
	}
	return s
}

func deviceOK(t kernel.ObjectType) bool {
	return t == kernel.TypeFrame || t == kernel.TypeUntyped
}

func alignUp(v, align kernel.Word) kernel.Word {
	return (v + align - 1) &^ (align - 1)
}
