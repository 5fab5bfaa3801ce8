package sim

import (
	"github.com/danmuck/capinit/internal/kernel"
)

func (k *Kernel) lookup(op string, c kernel.CPtr) (*Cap, error) {
	if c == kernel.CapNull || kernel.Word(c) >= kernel.Word(1)<<k.cspace.UserBits {
		return nil, kernel.Errorf(op, kernel.FailedLookup, "cptr %d out of range", c)
	}
	cp, ok := k.cspace.Slots[kernel.Word(c)]
	if !ok {
		return nil, kernel.Errorf(op, kernel.FailedLookup, "slot %d is empty", c)
	}
	return cp, nil
}

func (k *Kernel) lookupType(op string, c kernel.CPtr, types ...kernel.ObjectType) (*Cap, error) {
	cp, err := k.lookup(op, c)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		if cp.Object.Type == t {
			return cp, nil
		}
	}
	return nil, kernel.Errorf(op, kernel.InvalidCapability, "slot %d holds %s", c, cp.Object.Type)
}

func (k *Kernel) emptySlot(op string, c kernel.CPtr) error {
	if c == kernel.CapNull || kernel.Word(c) >= kernel.Word(1)<<k.cspace.UserBits {
		return kernel.Errorf(op, kernel.RangeError, "destination %d out of range", c)
	}
	if _, ok := k.cspace.Slots[kernel.Word(c)]; ok {
		return kernel.Errorf(op, kernel.DeleteFirst, "destination %d is occupied", c)
	}
	return nil
}

func (k *Kernel) destination(op string, ref kernel.SlotRef) (*Object, error) {
	root, err := k.lookupType(op, ref.Root, kernel.TypeCNode)
	if err != nil {
		return nil, err
	}
	cnode := root.Object
	if ref.Depth != cnode.UserBits {
		return nil, kernel.Errorf(op, kernel.RangeError, "depth %d for a %d-bit cnode", ref.Depth, cnode.UserBits)
	}
	if ref.Index >= kernel.Word(1)<<cnode.UserBits {
		return nil, kernel.Errorf(op, kernel.RangeError, "index %d out of range", ref.Index)
	}
	if _, ok := cnode.Slots[ref.Index]; ok {
		return nil, kernel.Errorf(op, kernel.DeleteFirst, "slot %d is occupied", ref.Index)
	}
	return cnode, nil
}

func alignUp(v, align kernel.Word) kernel.Word {
	return (v + align - 1) &^ (align - 1)
}

func (k *Kernel) UntypedRetype(untyped kernel.CPtr, bp kernel.Blueprint, dst kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "untyped_retype"
	err := k.retype(op, untyped, bp, dst)
	return k.record(op, err, "untyped=%d blueprint=%s dst=%d", untyped, bp, dst)
}

func (k *Kernel) retype(op string, untyped kernel.CPtr, bp kernel.Blueprint, dst kernel.CPtr) error {
	ucap, err := k.lookupType(op, untyped, kernel.TypeUntyped)
	if err != nil {
		return err
	}
	if err := k.emptySlot(op, dst); err != nil {
		return err
	}
	ut := ucap.Object
	if ut.Device && bp.Type != kernel.TypeFrame && bp.Type != kernel.TypeUntyped {
		return kernel.Errorf(op, kernel.IllegalOperation, "device untyped cannot hold %s", bp.Type)
	}
	switch bp.Type {
	case kernel.TypeUntyped:
		if bp.SizeBits < 4 || bp.SizeBits > ut.SizeBits {
			return kernel.Errorf(op, kernel.RangeError, "untyped size %d", bp.SizeBits)
		}
	case kernel.TypeFrame:
		if !k.arch.ValidFrameSize(bp.SizeBits) {
			return kernel.Errorf(op, kernel.InvalidArgument, "frame size %d", bp.SizeBits)
		}
	case kernel.TypeCNode:
		if bp.SizeBits == 0 {
			return kernel.Errorf(op, kernel.RangeError, "cnode needs at least one slot bit")
		}
	case kernel.TypeSchedContext:
		if !k.cfg.MCS {
			return kernel.Errorf(op, kernel.IllegalOperation, "sched contexts need an MCS kernel")
		}
		if bp.SizeBits < k.arch.MinSCBits {
			return kernel.Errorf(op, kernel.RangeError, "sched context size %d", bp.SizeBits)
		}
	case kernel.TypeReply:
		if !k.cfg.MCS {
			return kernel.Errorf(op, kernel.IllegalOperation, "reply objects need an MCS kernel")
		}
	case kernel.TypePageTable:
		if bp.Level == 0 || int(bp.Level) >= k.arch.NumLevels() {
			return kernel.Errorf(op, kernel.InvalidArgument, "page table level %d", bp.Level)
		}
	case kernel.TypeVCPU:
		if _, ok := k.arch.ObjectBits[kernel.TypeVCPU]; !ok {
			return kernel.Errorf(op, kernel.IllegalOperation, "no vcpu on %s", k.arch.Name)
		}
	case kernel.TypeTCB, kernel.TypeEndpoint, kernel.TypeNotification, kernel.TypeVSpace:
	default:
		return kernel.Errorf(op, kernel.InvalidArgument, "type %s is not retypeable", bp.Type)
	}

	bits := k.arch.ObjectSizeBits(bp)
	size := kernel.Word(1) << bits
	offset := alignUp(ut.Watermark, size)
	if bits > ut.SizeBits || offset+size > kernel.Word(1)<<ut.SizeBits {
		return kernel.Errorf(op, kernel.NotEnoughMemory, "%s needs %d bytes at offset %#x of a %d-bit untyped", bp, size, offset, ut.SizeBits)
	}

	obj := k.newObject(bp.Type, bits)
	obj.UserBits = bp.SizeBits
	obj.Level = bp.Level
	obj.Paddr = ut.Paddr + offset
	obj.Device = ut.Device
	obj.poisoned = ut.poisoned
	ut.Watermark = offset + size
	k.cspace.Slots[kernel.Word(dst)] = &Cap{Object: obj, Rights: kernel.RightsAll}
	return nil
}

func (k *Kernel) CNodeCopy(dst kernel.SlotRef, src kernel.CPtr, rights kernel.Rights) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "cnode_copy"
	err := k.copyCap(op, dst, src, rights, 0, false)
	return k.record(op, err, "dst=%d:%d/%d src=%d rights=%#x", dst.Root, dst.Index, dst.Depth, src, rights)
}

func (k *Kernel) CNodeMint(dst kernel.SlotRef, src kernel.CPtr, rights kernel.Rights, badge kernel.Word) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "cnode_mint"
	err := k.copyCap(op, dst, src, rights, badge, true)
	return k.record(op, err, "dst=%d:%d/%d src=%d rights=%#x badge=%#x", dst.Root, dst.Index, dst.Depth, src, rights, badge)
}

func (k *Kernel) copyCap(op string, dst kernel.SlotRef, src kernel.CPtr, rights kernel.Rights, badge kernel.Word, mint bool) error {
	from, err := k.lookup(op, src)
	if err != nil {
		return err
	}
	cnode, err := k.destination(op, dst)
	if err != nil {
		return err
	}
	c := &Cap{Object: from.Object, Rights: from.Rights & rights, Badge: from.Badge, GuardData: from.GuardData}
	if mint {
		switch from.Object.Type {
		case kernel.TypeEndpoint, kernel.TypeNotification:
			if from.Badge != 0 && badge != 0 {
				return kernel.Errorf(op, kernel.IllegalOperation, "cap is already badged")
			}
			if badge != 0 {
				c.Badge = badge
			}
		case kernel.TypeCNode:
			c.GuardData = badge
		}
	}
	cnode.Slots[dst.Index] = c
	return nil
}

func (k *Kernel) ASIDControlMakePool(untyped kernel.CPtr, dst kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "asid_control_make_pool"
	err := func() error {
		ucap, err := k.lookupType(op, untyped, kernel.TypeUntyped)
		if err != nil {
			return err
		}
		if err := k.emptySlot(op, dst); err != nil {
			return err
		}
		ut := ucap.Object
		if ut.Device || ut.SizeBits != k.arch.ASIDPoolBits || ut.Watermark != 0 {
			return kernel.Errorf(op, kernel.InvalidArgument, "pool needs a fresh %d-bit untyped", k.arch.ASIDPoolBits)
		}
		if k.asidPools >= maxASIDPools {
			return kernel.Errorf(op, kernel.DeleteFirst, "no free asid pools")
		}
		pool := k.newObject(kernel.TypeASIDPool, ut.SizeBits)
		pool.Paddr = ut.Paddr
		pool.poolBase = uint32(k.asidPools) * asidPoolEntries
		k.asidPools++
		ut.Watermark = kernel.Word(1) << ut.SizeBits
		k.cspace.Slots[kernel.Word(dst)] = &Cap{Object: pool, Rights: kernel.RightsAll}
		return nil
	}()
	return k.record(op, err, "untyped=%d dst=%d", untyped, dst)
}

func (k *Kernel) ASIDPoolAssign(pool, vspace kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "asid_pool_assign"
	err := func() error {
		pcap, err := k.lookupType(op, pool, kernel.TypeASIDPool)
		if err != nil {
			return err
		}
		vcap, err := k.lookupType(op, vspace, kernel.TypeVSpace)
		if err != nil {
			return err
		}
		p, vs := pcap.Object, vcap.Object
		if vs.ASID != 0 {
			return kernel.Errorf(op, kernel.InvalidCapability, "vspace already has asid %d", vs.ASID)
		}
		if p.poolUsed >= asidPoolEntries {
			return kernel.Errorf(op, kernel.DeleteFirst, "asid pool is full")
		}
		vs.ASID = p.poolBase + p.poolUsed
		p.poolUsed++
		return nil
	}()
	return k.record(op, err, "pool=%d vspace=%d", pool, vspace)
}

func (k *Kernel) IRQControlGet(req kernel.IRQRequest, dst kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "irq_control_get"
	err := func() error {
		if err := k.emptySlot(op, dst); err != nil {
			return err
		}
		if req.IRQ >= maxIRQ {
			return kernel.Errorf(op, kernel.RangeError, "irq %d", req.IRQ)
		}
		if _, taken := k.irqs[req.IRQ]; taken {
			return kernel.Errorf(op, kernel.RevokeFirst, "irq %d already has a handler", req.IRQ)
		}
		h := k.newObject(kernel.TypeIRQHandler, 0)
		h.IRQ = req.IRQ
		k.irqs[req.IRQ] = h
		k.cspace.Slots[kernel.Word(dst)] = &Cap{Object: h, Rights: kernel.RightsAll}
		return nil
	}()
	return k.record(op, err, "kind=%d irq=%d dst=%d", req.Kind, req.IRQ, dst)
}

func (k *Kernel) IRQHandlerSetNotification(handler, ntfn kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "irq_handler_set_notification"
	err := func() error {
		h, err := k.lookupType(op, handler, kernel.TypeIRQHandler)
		if err != nil {
			return err
		}
		n, err := k.lookupType(op, ntfn, kernel.TypeNotification)
		if err != nil {
			return err
		}
		h.Object.Notification = n.Object
		return nil
	}()
	return k.record(op, err, "handler=%d ntfn=%d", handler, ntfn)
}

func (k *Kernel) SchedControlConfigure(core kernel.Word, sc kernel.CPtr, budget, period uint64, badge kernel.Word) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "sched_control_configure"
	err := func() error {
		if !k.cfg.MCS {
			return kernel.Errorf(op, kernel.IllegalOperation, "not an MCS kernel")
		}
		if core >= kernel.Word(k.cfg.Cores) {
			return kernel.Errorf(op, kernel.RangeError, "core %d", core)
		}
		c, err := k.lookupType(op, sc, kernel.TypeSchedContext)
		if err != nil {
			return err
		}
		if budget > period {
			return kernel.Errorf(op, kernel.RangeError, "budget %d exceeds period %d", budget, period)
		}
		obj := c.Object
		obj.Budget, obj.Period, obj.Badge, obj.Core, obj.Configured = budget, period, badge, core, true
		return nil
	}()
	return k.record(op, err, "core=%d sc=%d budget=%d period=%d badge=%#x", core, sc, budget, period, badge)
}
