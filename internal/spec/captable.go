package spec

import "sort"

// TCB slot conventions.
const (
	SlotTCBCSpace            CapSlot = 0
	SlotTCBVSpace            CapSlot = 1
	SlotTCBIPCBuffer         CapSlot = 4
	SlotTCBMCSFaultEP        CapSlot = 5
	SlotTCBSC                CapSlot = 6
	SlotTCBTempFaultEP       CapSlot = 7
	SlotTCBBoundNotification CapSlot = 8
	SlotTCBVCPU              CapSlot = 9
)

// SlotIRQNotification is the notification slot of every IRQ kind.
const SlotIRQNotification CapSlot = 0

// CapTableEntry binds one slot of an object to a capability.
type CapTableEntry struct {
	Slot CapSlot
	Cap  Cap
}

// Slot returns the capability stored at slot, if any.
func (o *Object) Slot(slot CapSlot) (Cap, bool) {
	for _, e := range o.Slots {
		if e.Slot == slot {
			return e.Cap, true
		}
	}
	return Cap{}, false
}

// PopulationOrder returns the object's slots with 0 and 1 first and the rest
// ascending. Operations addressed through an object's own cspace depend on
// slots 0 and 1 being present.
func (o *Object) PopulationOrder() []CapTableEntry {
	out := make([]CapTableEntry, len(o.Slots))
	copy(out, o.Slots)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Slot > 1, out[j].Slot > 1
		if pi != pj {
			return !pi
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// NumSlots is the number of slots a CNode exposes.
func (o *Object) NumSlots() uint64 {
	if o.Kind != KindCNode {
		return uint64(len(o.Slots))
	}
	return uint64(1) << o.SizeBits
}

func (o *Object) CSpace() (Cap, bool)            { return o.Slot(SlotTCBCSpace) }
func (o *Object) VSpace() (Cap, bool)            { return o.Slot(SlotTCBVSpace) }
func (o *Object) IPCBuffer() (Cap, bool)         { return o.Slot(SlotTCBIPCBuffer) }
func (o *Object) MCSFaultEP() (Cap, bool)        { return o.Slot(SlotTCBMCSFaultEP) }
func (o *Object) SC() (Cap, bool)                { return o.Slot(SlotTCBSC) }
func (o *Object) TempFaultEP() (Cap, bool)       { return o.Slot(SlotTCBTempFaultEP) }
func (o *Object) BoundNotification() (Cap, bool) { return o.Slot(SlotTCBBoundNotification) }
func (o *Object) VCPU() (Cap, bool)              { return o.Slot(SlotTCBVCPU) }

// IRQNotification returns the notification an IRQ handler signals.
func (o *Object) IRQNotification() (Cap, bool) { return o.Slot(SlotIRQNotification) }
