// Package cslot hands out free slots of the initializer's own cspace.
package cslot

import (
	"errors"
	"fmt"

	"github.com/danmuck/capinit/internal/kernel"
)

var ErrExhausted = errors.New("cslot: no free slots")

// Allocator is a bump allocator over the empty region reported at boot.
type Allocator struct {
	region kernel.SlotRegion
	next   kernel.CPtr
}

func New(region kernel.SlotRegion) *Allocator {
	return &Allocator{region: region, next: region.Start}
}

// Alloc returns the next free slot.
func (a *Allocator) Alloc() (kernel.CPtr, error) {
	if a.next >= a.region.End {
		return kernel.CapNull, fmt.Errorf("%w: region [%d, %d) used up", ErrExhausted, a.region.Start, a.region.End)
	}
	c := a.next
	a.next++
	return c, nil
}

// AllocN reserves n consecutive slots.
func (a *Allocator) AllocN(n int) (kernel.SlotRegion, error) {
	if n < 0 || a.Remaining() < n {
		return kernel.SlotRegion{}, fmt.Errorf("%w: want %d, have %d", ErrExhausted, n, a.Remaining())
	}
	r := kernel.SlotRegion{Start: a.next, End: a.next + kernel.CPtr(n)}
	a.next = r.End
	return r, nil
}

func (a *Allocator) Remaining() int {
	return kernel.SlotRegion{Start: a.next, End: a.region.End}.Len()
}

func (a *Allocator) Used() int {
	return int(a.next - a.region.Start)
}
