package sim

import (
	"github.com/danmuck/capinit/internal/kernel"
)

const ipcBufferAlign = 1 << 9

func (k *Kernel) thread(op string, tcb kernel.CPtr) (*Object, error) {
	c, err := k.lookupType(op, tcb, kernel.TypeTCB)
	if err != nil {
		return nil, err
	}
	return c.Object, nil
}

func (k *Kernel) TCBConfigure(tcb kernel.CPtr, cfg kernel.TCBConfig) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_configure"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		th := t.Thread
		var cspace, vspace, buffer *Object
		if cfg.CSpaceRoot != kernel.CapNull {
			c, err := k.lookupType(op, cfg.CSpaceRoot, kernel.TypeCNode)
			if err != nil {
				return err
			}
			cspace = c.Object
		}
		if cfg.VSpaceRoot != kernel.CapNull {
			c, err := k.lookupType(op, cfg.VSpaceRoot, kernel.TypeVSpace)
			if err != nil {
				return err
			}
			if c.Object.ASID == 0 {
				return kernel.Errorf(op, kernel.InvalidCapability, "vspace root has no asid")
			}
			vspace = c.Object
		}
		if cfg.IPCBufferFrame != kernel.CapNull {
			c, err := k.lookupType(op, cfg.IPCBufferFrame, kernel.TypeFrame)
			if err != nil {
				return err
			}
			if cfg.IPCBufferAddr%ipcBufferAlign != 0 {
				return kernel.Errorf(op, kernel.AlignmentError, "ipc buffer %#x", cfg.IPCBufferAddr)
			}
			buffer = c.Object
		}
		th.Configured = true
		th.CSpace, th.CSpaceRootData = cspace, cfg.CSpaceRootData
		th.VSpace = vspace
		th.IPCBufferAddr, th.IPCBuffer = cfg.IPCBufferAddr, buffer
		th.FaultEP = cfg.FaultEP
		return nil
	}()
	return k.record(op, err, "tcb=%d cspace=%d vspace=%d buffer=%d@%#x fault=%d",
		tcb, cfg.CSpaceRoot, cfg.VSpaceRoot, cfg.IPCBufferFrame, cfg.IPCBufferAddr, cfg.FaultEP)
}

func (k *Kernel) TCBSetSchedParams(tcb kernel.CPtr, params kernel.SchedParams) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_set_sched_params"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		auth, err := k.thread(op, params.Authority)
		if err != nil {
			return err
		}
		if params.MaxPrio > auth.Thread.MaxPrio || params.Prio > auth.Thread.MaxPrio {
			return kernel.Errorf(op, kernel.RangeError, "priority above authority %d", auth.Thread.MaxPrio)
		}
		var sc, fault *Object
		if params.SchedContext != kernel.CapNull || params.FaultEP != kernel.CapNull {
			if !k.cfg.MCS {
				return kernel.Errorf(op, kernel.IllegalOperation, "sched context binding needs an MCS kernel")
			}
		}
		if params.SchedContext != kernel.CapNull {
			c, err := k.lookupType(op, params.SchedContext, kernel.TypeSchedContext)
			if err != nil {
				return err
			}
			sc = c.Object
		}
		if params.FaultEP != kernel.CapNull {
			c, err := k.lookupType(op, params.FaultEP, kernel.TypeEndpoint)
			if err != nil {
				return err
			}
			fault = c.Object
		}
		th := t.Thread
		th.Prio, th.MaxPrio = params.Prio, params.MaxPrio
		th.SchedContext, th.MCSFaultEP = sc, fault
		return nil
	}()
	return k.record(op, err, "tcb=%d prio=%d mcp=%d sc=%d fault=%d", tcb, params.Prio, params.MaxPrio, params.SchedContext, params.FaultEP)
}

func (k *Kernel) TCBSetTimeoutEndpoint(tcb, ep kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_set_timeout_endpoint"
	err := func() error {
		if !k.cfg.MCS {
			return kernel.Errorf(op, kernel.IllegalOperation, "timeout endpoints need an MCS kernel")
		}
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		c, err := k.lookupType(op, ep, kernel.TypeEndpoint)
		if err != nil {
			return err
		}
		t.Thread.TimeoutEP = c.Object
		return nil
	}()
	return k.record(op, err, "tcb=%d ep=%d", tcb, ep)
}

func (k *Kernel) TCBSetAffinity(tcb kernel.CPtr, core kernel.Word) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_set_affinity"
	err := func() error {
		if k.cfg.MCS {
			return kernel.Errorf(op, kernel.IllegalOperation, "affinity follows the sched context on MCS")
		}
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		if core >= kernel.Word(k.cfg.Cores) {
			return kernel.Errorf(op, kernel.RangeError, "core %d", core)
		}
		t.Thread.Affinity = core
		return nil
	}()
	return k.record(op, err, "tcb=%d core=%d", tcb, core)
}

func (k *Kernel) TCBWriteRegisters(tcb kernel.CPtr, resume bool, ctx kernel.UserContext) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_write_registers"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		if len(ctx.GPRs) > k.arch.NumGPRs {
			return kernel.Errorf(op, kernel.InvalidArgument, "%d registers", len(ctx.GPRs))
		}
		th := t.Thread
		th.Context = kernel.UserContext{PC: ctx.PC, SP: ctx.SP, Flags: ctx.Flags, GPRs: append([]kernel.Word(nil), ctx.GPRs...)}
		th.RegistersSet = true
		if resume {
			th.Running, th.Suspended = true, false
		}
		return nil
	}()
	return k.record(op, err, "tcb=%d resume=%v pc=%#x sp=%#x", tcb, resume, ctx.PC, ctx.SP)
}

func (k *Kernel) TCBBindNotification(tcb, ntfn kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_bind_notification"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		n, err := k.lookupType(op, ntfn, kernel.TypeNotification)
		if err != nil {
			return err
		}
		if t.Thread.Bound != nil {
			return kernel.Errorf(op, kernel.IllegalOperation, "tcb already bound")
		}
		for _, o := range k.objects {
			if o.Thread != nil && o.Thread.Bound == n.Object {
				return kernel.Errorf(op, kernel.IllegalOperation, "notification already bound")
			}
		}
		t.Thread.Bound = n.Object
		return nil
	}()
	return k.record(op, err, "tcb=%d ntfn=%d", tcb, ntfn)
}

func (k *Kernel) TCBResume(tcb kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_resume"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		if !t.Thread.RegistersSet && t != k.initTCB {
			return kernel.Errorf(op, kernel.IllegalOperation, "thread has no registers")
		}
		t.Thread.Running, t.Thread.Suspended = true, false
		return nil
	}()
	return k.record(op, err, "tcb=%d", tcb)
}

func (k *Kernel) TCBSuspend(tcb kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_suspend"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		t.Thread.Running, t.Thread.Suspended = false, true
		return nil
	}()
	return k.record(op, err, "tcb=%d", tcb)
}

func (k *Kernel) TCBSetName(tcb kernel.CPtr, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "tcb_set_name"
	err := func() error {
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		t.Thread.Name = name
		return nil
	}()
	return k.record(op, err, "tcb=%d name=%q", tcb, name)
}

func (k *Kernel) VCPUSetTCB(vcpu, tcb kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "vcpu_set_tcb"
	err := func() error {
		v, err := k.lookupType(op, vcpu, kernel.TypeVCPU)
		if err != nil {
			return err
		}
		t, err := k.thread(op, tcb)
		if err != nil {
			return err
		}
		v.Object.BoundTCB = t
		t.Thread.VCPU = v.Object
		return nil
	}()
	return k.record(op, err, "vcpu=%d tcb=%d", vcpu, tcb)
}
