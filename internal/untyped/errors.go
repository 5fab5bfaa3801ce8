package untyped

import (
	"fmt"

	"github.com/danmuck/capinit/internal/kernel"
)

// Remaining is one region's capacity at the time of a failed request.
type Remaining struct {
	CPtr     kernel.CPtr
	Paddr    kernel.Word
	SizeBits uint8
	Device   bool
	Free     kernel.Word
}

// ExhaustionError reports a size class no region could satisfy.
type ExhaustionError struct {
	SizeBits  uint8
	Device    bool
	Remaining []Remaining
}

func (e *ExhaustionError) Error() string {
	var free kernel.Word
	for _, r := range e.Remaining {
		if r.Device == e.Device {
			free += r.Free
		}
	}
	return fmt.Sprintf("untyped: no region fits a %d-bit object (device=%v, %d bytes free in %d regions)",
		e.SizeBits, e.Device, free, len(e.Remaining))
}

func (e *ExhaustionError) Unwrap() error {
	return ErrExhausted
}

func (a *Allocator) exhaustion(sizeBits uint8, device bool) *ExhaustionError {
	e := &ExhaustionError{SizeBits: sizeBits, Device: device}
	for i := range a.regions {
		r := &a.regions[i]
		if r.Reserved {
			continue
		}
		e.Remaining = append(e.Remaining, Remaining{
			CPtr:     r.CPtr,
			Paddr:    r.Paddr,
			SizeBits: r.SizeBits,
			Device:   r.Device,
			Free:     r.Free(),
		})
	}
	return e
}
