package untyped

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/cslot"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/kernel/sim"
)

func boot(t *testing.T, untypeds ...sim.UntypedConfig) (*sim.Kernel, *cslot.Allocator, kernel.BootInfo) {
	t.Helper()
	a, err := arch.Lookup("aarch64")
	require.NoError(t, err)
	k, err := sim.New(sim.Config{Arch: a, Untyped: untypeds})
	require.NoError(t, err)
	bi := k.BootInfo()
	return k, cslot.New(bi.Empty), bi
}

func frame(bits uint8) kernel.Blueprint {
	return kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: bits}
}

func TestSelectPrefersExactFit(t *testing.T) {
	a := NewAllocator([]Region{
		{CPtr: 20, Paddr: 0x100000, SizeBits: 16},
		{CPtr: 21, Paddr: 0x200000, SizeBits: 12},
	}, Policy{})
	idx, err := a.Select(12, false)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = a.Select(13, false)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestSelectSmallestRemainingThenTieBreak(t *testing.T) {
	regions := []Region{
		{CPtr: 20, Paddr: 0x400000, SizeBits: 20},
		{CPtr: 21, Paddr: 0x300000, SizeBits: 16},
		{CPtr: 22, Paddr: 0x200000, SizeBits: 16},
	}
	idx, err := NewAllocator(regions, Policy{}).Select(12, false)
	require.NoError(t, err)
	assert.Equal(t, 1, idx, "list order picks the first of the equal regions")

	idx, err = NewAllocator(regions, Policy{TieBreak: TieBreakLowestPaddr}).Select(12, false)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestDeviceMemoryNeverBacksOrdinaryObjects(t *testing.T) {
	a := NewAllocator([]Region{{CPtr: 20, Paddr: 0x100000, SizeBits: 20, Device: true}}, Policy{})
	_, err := a.Select(12, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	var exhausted *ExhaustionError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, uint8(12), exhausted.SizeBits)
	assert.False(t, exhausted.Device)
	require.Len(t, exhausted.Remaining, 1)
	assert.Equal(t, kernel.Word(1<<20), exhausted.Remaining[0].Free)
	assert.Equal(t, 1, a.Stats().Exhausted)
}

func TestRetypeAtSplitsMaximally(t *testing.T) {
	k, slots, bi := boot(t, sim.UntypedConfig{Paddr: 0x100000, SizeBits: 20})
	a := FromBootInfo(&bi, Policy{})

	dst, err := slots.Alloc()
	require.NoError(t, err)
	p, err := a.RetypeAt(k, frame(12), 12, 0x10b000, dst, slots)
	require.NoError(t, err)
	assert.Equal(t, kernel.Word(0x10b000), p.Paddr)

	c, ok := k.Cap(dst)
	require.True(t, ok)
	assert.Equal(t, kernel.Word(0x10b000), c.Object.Paddr)

	regions := a.Regions()
	require.Len(t, regions, 4)
	var splits []uint8
	for _, r := range regions[1:] {
		assert.Equal(t, 0, r.Parent)
		splits = append(splits, r.SizeBits)
	}
	assert.Equal(t, []uint8{15, 13, 12}, splits)

	dst2, _ := slots.Alloc()
	p2, err := a.Retype(k, frame(13), 13, dst2)
	require.NoError(t, err)
	assert.Equal(t, kernel.Word(0x108000), p2.Paddr, "exact-fit split is reused")

	_, err = a.RetypeAt(k, frame(12), 12, 0x100000, dst2+100, slots)
	assert.True(t, errors.Is(err, ErrPaddrUnavailable))

	s := a.Stats()
	assert.Equal(t, kernel.Word(1<<20), s.Total)
	assert.Equal(t, s.Total, s.Used+s.Free)
	assert.Equal(t, 3, s.Splits)
}

func TestRetypeAtRejectsDeviceObjects(t *testing.T) {
	k, slots, bi := boot(t, sim.UntypedConfig{Paddr: 0x10000000, SizeBits: 16, Device: true})
	a := FromBootInfo(&bi, Policy{})
	dst, _ := slots.Alloc()
	_, err := a.RetypeAt(k, kernel.Blueprint{Type: kernel.TypeTCB}, 11, 0x10000000, dst, slots)
	assert.True(t, errors.Is(err, ErrDeviceObject))

	p, err := a.RetypeAt(k, frame(12), 12, 0x10004000, dst, slots)
	require.NoError(t, err)
	assert.Equal(t, kernel.Word(0x10004000), p.Paddr)
}

func TestReservedRegionsOnlyServeTheirChildren(t *testing.T) {
	k, slots, bi := boot(t, sim.UntypedConfig{Paddr: 0x100000, SizeBits: 16})
	a := FromBootInfo(&bi, Policy{})
	dst, _ := slots.Alloc()
	p, err := a.Retype(k, kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: 14}, 14, dst)
	require.NoError(t, err)
	res := a.Reserve(p)

	child, _ := slots.Alloc()
	cp, err := a.RetypeFrom(k, res, frame(12), 12, child)
	require.NoError(t, err)
	assert.Equal(t, p.Paddr, cp.Paddr)

	other, _ := slots.Alloc()
	op, err := a.Retype(k, frame(12), 12, other)
	require.NoError(t, err)
	assert.Equal(t, kernel.Word(0x104000), op.Paddr)
}

// Every placement must stay inside its region, never overlap another
// placement from the same region, and agree with the kernel's own watermark.
func TestAllocatorConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		k, slots, bi := boot(t,
			sim.UntypedConfig{Paddr: 0x100000, SizeBits: 20},
			sim.UntypedConfig{Paddr: 0x400000, SizeBits: 18},
			sim.UntypedConfig{Paddr: 0x800000, SizeBits: 14},
		)
		a := FromBootInfo(&bi, Policy{TieBreak: TieBreak(round % 2)})
		for i := 0; i < 64; i++ {
			bits := uint8(4 + rng.IntN(13))
			bp := kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: bits}
			dst, err := slots.Alloc()
			require.NoError(t, err)
			if _, err := a.Retype(k, bp, bits, dst); err != nil {
				require.True(t, errors.Is(err, ErrExhausted), "round %d: %v", round, err)
			}
		}

		regions := a.Regions()
		byRegion := map[int][]Placement{}
		for _, p := range a.Placements() {
			r := regions[p.Region]
			end := p.Paddr + kernel.Word(1)<<p.SizeBits
			require.GreaterOrEqual(t, p.Paddr, r.Paddr)
			require.LessOrEqual(t, end, r.Paddr+r.Size())
			byRegion[p.Region] = append(byRegion[p.Region], p)
		}
		for _, ps := range byRegion {
			sort.Slice(ps, func(i, j int) bool { return ps[i].Paddr < ps[j].Paddr })
			for i := 1; i < len(ps); i++ {
				prevEnd := ps[i-1].Paddr + kernel.Word(1)<<ps[i-1].SizeBits
				require.LessOrEqual(t, prevEnd, ps[i].Paddr)
			}
		}
		for _, u := range k.Untypeds() {
			for _, r := range regions {
				if uint64(r.CPtr) == u.Slot {
					require.Equal(t, r.Watermark, u.Watermark)
					require.LessOrEqual(t, r.Watermark, r.Size())
				}
			}
		}
		s := a.Stats()
		require.LessOrEqual(t, s.Placed, s.Used)
		require.Equal(t, s.Total, s.Used+s.Free)
	}
}
