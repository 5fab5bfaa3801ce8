package sim

import (
	"github.com/danmuck/capinit/internal/kernel"
)

// ObjectInfo is a summary of one object for listings.
type ObjectInfo struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	SizeBits uint8  `json:"size_bits"`
	Paddr    uint64 `json:"paddr"`
	Device   bool   `json:"device,omitempty"`
	Name     string `json:"name,omitempty"`
	Running  bool   `json:"running,omitempty"`
}

// UntypedInfo reports how much of a boot untyped has been consumed.
type UntypedInfo struct {
	Slot      uint64 `json:"slot"`
	Paddr     uint64 `json:"paddr"`
	SizeBits  uint8  `json:"size_bits"`
	Device    bool   `json:"device"`
	Watermark uint64 `json:"watermark"`
}

func info(o *Object) ObjectInfo {
	out := ObjectInfo{ID: o.ID, Type: o.Type.String(), SizeBits: o.SizeBits, Paddr: o.Paddr, Device: o.Device}
	if o.Thread != nil {
		out.Name = o.Thread.Name
		out.Running = o.Thread.Running
	}
	return out
}

// Objects lists every object in creation order.
func (k *Kernel) Objects() []ObjectInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]ObjectInfo, 0, len(k.objects))
	for _, o := range k.objects {
		out = append(out, info(o))
	}
	return out
}

// ObjectInfo returns one object by id.
func (k *Kernel) ObjectInfo(id int) (ObjectInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id < 0 || id >= len(k.objects) {
		return ObjectInfo{}, false
	}
	return info(k.objects[id]), true
}

// Untypeds reports the boot untypeds and their watermarks.
func (k *Kernel) Untypeds() []UntypedInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]UntypedInfo, 0, k.bootInfo.Untyped.Len())
	for c := k.bootInfo.Untyped.Start; c < k.bootInfo.Untyped.End; c++ {
		cp := k.cspace.Slots[kernel.Word(c)]
		if cp == nil {
			continue
		}
		o := cp.Object
		out = append(out, UntypedInfo{Slot: uint64(c), Paddr: o.Paddr, SizeBits: o.SizeBits, Device: o.Device, Watermark: o.Watermark})
	}
	return out
}

// Invocations returns a copy of the invocation log.
func (k *Kernel) Invocations() []Invocation {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Invocation(nil), k.invocations...)
}

// Count returns how many successful invocations of op were recorded.
func (k *Kernel) Count(op string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, inv := range k.invocations {
		if inv.Op == op && inv.Err == "" {
			n++
		}
	}
	return n
}

// Cap returns the cap held in a slot of the initial cspace.
func (k *Kernel) Cap(c kernel.CPtr) (*Cap, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cp, ok := k.cspace.Slots[kernel.Word(c)]
	return cp, ok
}

// InitThread returns the initial thread's TCB.
func (k *Kernel) InitThread() *Object {
	return k.initTCB
}
