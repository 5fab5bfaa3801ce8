package initializer

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
)

// configureSchedContexts programs budget and period on MCS kernels. A sched
// context runs on the core of the thread it is bound to.
func (i *Initializer) configureSchedContexts() error {
	ids := i.sp.IDs(spec.KindSchedContext)
	if len(ids) == 0 {
		return nil
	}
	if !i.cfg.BootInfo.MCS {
		return i.failGlobal(PhaseSchedContext, "sched_control_configure", ErrMCS)
	}
	cores := make(map[spec.ObjectID]kernel.Word)
	for _, t := range i.sp.IDs(spec.KindTCB) {
		obj := &i.sp.Objects[t].Object
		if c, ok := obj.SC(); ok {
			cores[c.Object] = uint64(obj.TCB.Affinity)
		}
	}
	for _, id := range ids {
		sc, err := i.capOf(id)
		if err != nil {
			return i.fail(PhaseSchedContext, "sched_context", id, err)
		}
		var budget, period uint64
		var badge kernel.Word
		if x := i.sp.Objects[id].Object.SchedContext; x != nil {
			budget, period, badge = x.Budget, x.Period, uint64(x.Badge)
		}
		if err := i.k.SchedControlConfigure(cores[id], sc, budget, period, badge); err != nil {
			return i.fail(PhaseSchedContext, "sched_control_configure", id, err)
		}
	}
	return nil
}

func (i *Initializer) configureTCBs() error {
	for _, id := range i.sp.IDs(spec.KindTCB) {
		if err := i.configureTCB(id); err != nil {
			return err
		}
	}
	return nil
}

// slotCap resolves a TCB slot to the original cap of its target, recording
// the slot as populated.
func (i *Initializer) slotCap(id spec.ObjectID, slot spec.CapSlot) (kernel.CPtr, spec.Cap, bool, error) {
	c, ok := i.sp.Objects[id].Object.Slot(slot)
	if !ok {
		return kernel.CapNull, spec.Cap{}, false, nil
	}
	cp, err := i.capOf(c.Object)
	if err != nil {
		return kernel.CapNull, c, true, i.fail(PhaseTCB, fmt.Sprintf("slot_%d", slot), id, err)
	}
	i.populated(PhaseTCB, id, slot, c.Object)
	return cp, c, true, nil
}

func (i *Initializer) configureTCB(id spec.ObjectID) error {
	obj := &i.sp.Objects[id].Object
	x := obj.TCB
	tcb, err := i.capOf(id)
	if err != nil {
		return i.fail(PhaseTCB, "tcb", id, err)
	}
	mcs := i.cfg.BootInfo.MCS

	if ntfn, _, ok, err := i.slotCap(id, spec.SlotTCBBoundNotification); err != nil {
		return err
	} else if ok {
		if err := i.k.TCBBindNotification(tcb, ntfn); err != nil {
			return i.fail(PhaseTCB, "tcb_bind_notification", id, err)
		}
	}
	if vcpu, _, ok, err := i.slotCap(id, spec.SlotTCBVCPU); err != nil {
		return err
	} else if ok {
		if err := i.k.VCPUSetTCB(vcpu, tcb); err != nil {
			return i.fail(PhaseTCB, "vcpu_set_tcb", id, err)
		}
	}

	var cfg kernel.TCBConfig
	if cspace, c, ok, err := i.slotCap(id, spec.SlotTCBCSpace); err != nil {
		return err
	} else if ok {
		cfg.CSpaceRoot = cspace
		cfg.CSpaceRootData = uint64(c.GuardData())
	}
	if vspace, _, ok, err := i.slotCap(id, spec.SlotTCBVSpace); err != nil {
		return err
	} else if ok {
		cfg.VSpaceRoot = vspace
	}
	if buffer, _, ok, err := i.slotCap(id, spec.SlotTCBIPCBuffer); err != nil {
		return err
	} else if ok {
		cfg.IPCBufferFrame = buffer
		cfg.IPCBufferAddr = uint64(x.IPCBufferAddr)
	}
	if !mcs && x.MasterFaultEP != nil {
		cfg.FaultEP = uint64(*x.MasterFaultEP)
	}
	if err := i.k.TCBConfigure(tcb, cfg); err != nil {
		return i.fail(PhaseTCB, "tcb_configure", id, err)
	}

	params := kernel.SchedParams{Authority: kernel.CapInitThreadTCB, MaxPrio: x.MaxPrio, Prio: x.Prio}
	if mcs {
		if sc, _, ok, err := i.slotCap(id, spec.SlotTCBSC); err != nil {
			return err
		} else if ok {
			params.SchedContext = sc
		}
		if ep, c, ok, err := i.slotCap(id, spec.SlotTCBMCSFaultEP); err != nil {
			return err
		} else if ok {
			params.FaultEP = ep
			if c.NeedsMint() {
				if params.FaultEP, err = i.copyCap(c.Object, c); err != nil {
					return i.fail(PhaseTCB, "fault_endpoint", id, err)
				}
			}
		}
		if ep, _, ok, err := i.slotCap(id, spec.SlotTCBTempFaultEP); err != nil {
			return err
		} else if ok {
			if err := i.k.TCBSetTimeoutEndpoint(tcb, ep); err != nil {
				return i.fail(PhaseTCB, "tcb_set_timeout_endpoint", id, err)
			}
		}
	}
	if err := i.k.TCBSetSchedParams(tcb, params); err != nil {
		return i.fail(PhaseTCB, "tcb_set_sched_params", id, err)
	}
	if !mcs && i.cfg.BootInfo.NumNodes > 1 {
		if err := i.k.TCBSetAffinity(tcb, uint64(x.Affinity)); err != nil {
			return i.fail(PhaseTCB, "tcb_set_affinity", id, err)
		}
	}

	ctx, err := i.arch.UserContext(x)
	if err != nil {
		return i.fail(PhaseTCB, "user_context", id, err)
	}
	if err := i.k.TCBWriteRegisters(tcb, false, ctx); err != nil {
		return i.fail(PhaseTCB, "tcb_write_registers", id, err)
	}
	i.report.RegistersWritten++

	if name := i.name(id); name != "" {
		if err := i.k.TCBSetName(tcb, name); err != nil {
			return i.fail(PhaseTCB, "tcb_set_name", id, err)
		}
	}
	log.Trace().Msgf("initializer.configureTCB object=%d prio=%d pc=%#x resume=%v", id, x.Prio, ctx.PC, x.Resume)
	return nil
}

// populateCSpaces copies or mints every CNode entry. Slots 0 and 1 go
// first so later derivations through the CNode's own cspace resolve.
func (i *Initializer) populateCSpaces() error {
	for _, id := range i.sp.IDs(spec.KindCNode) {
		obj := &i.sp.Objects[id].Object
		cnode, err := i.capOf(id)
		if err != nil {
			return i.fail(PhaseCSpace, "cnode", id, err)
		}
		for _, entry := range obj.PopulationOrder() {
			src, err := i.capOf(entry.Cap.Object)
			if err != nil {
				return i.fail(PhaseCSpace, "source", id, err)
			}
			dst := kernel.SlotRef{Root: cnode, Index: uint64(entry.Slot), Depth: obj.SizeBits}
			rights := kernel.Rights(entry.Cap.EffectiveRights().Bits())
			if entry.Cap.NeedsMint() {
				err = i.k.CNodeMint(dst, src, rights, uint64(entry.Cap.MintBadge()))
			} else {
				err = i.k.CNodeCopy(dst, src, rights)
			}
			if err != nil {
				return i.fail(PhaseCSpace, fmt.Sprintf("populate_slot_%d", entry.Slot), id, err)
			}
			i.populated(PhaseCSpace, id, entry.Slot, entry.Cap.Object)
		}
	}
	return nil
}

func (i *Initializer) startThreads() error {
	for _, id := range i.sp.IDs(spec.KindTCB) {
		if !i.sp.Objects[id].Object.TCB.Resume {
			continue
		}
		if err := i.k.TCBResume(i.caps[id]); err != nil {
			return i.fail(PhaseStart, "tcb_resume", id, err)
		}
		i.report.Started++
	}
	return nil
}

func (i *Initializer) suspendSelf() error {
	if err := i.k.TCBSuspend(kernel.CapInitThreadTCB); err != nil {
		return i.failGlobal(PhaseSuspend, "tcb_suspend", err)
	}
	return nil
}
