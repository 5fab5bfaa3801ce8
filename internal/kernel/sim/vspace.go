package sim

import (
	"github.com/danmuck/capinit/internal/kernel"
)

func (k *Kernel) index(level int, vaddr kernel.Word) kernel.Word {
	return (vaddr >> k.arch.StepBits(level)) & (kernel.Word(k.arch.Entries(level)) - 1)
}

func (k *Kernel) frameLevel(bits uint8) (int, bool) {
	for level := 1; level < k.arch.NumLevels(); level++ {
		if k.arch.StepBits(level) == bits {
			return level, true
		}
	}
	return 0, false
}

// walk descends from root to the table at level, failing on a missing
// intermediate table.
func (k *Kernel) walk(op string, root *Object, vaddr kernel.Word, level int) (*Object, error) {
	cur := root
	for l := 0; l < level; l++ {
		next, ok := cur.Entries[k.index(l, vaddr)]
		if !ok || next.Type != kernel.TypePageTable {
			return nil, kernel.Errorf(op, kernel.FailedLookup, "no level %d table covers %#x", l+1, vaddr)
		}
		cur = next
	}
	return cur, nil
}

func (k *Kernel) FrameMap(frame, vspace kernel.CPtr, vaddr kernel.Word, rights kernel.Rights, attrs kernel.VMAttributes) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "frame_map"
	err := func() error {
		fcap, err := k.lookupType(op, frame, kernel.TypeFrame)
		if err != nil {
			return err
		}
		vcap, err := k.lookupType(op, vspace, kernel.TypeVSpace)
		if err != nil {
			return err
		}
		if fcap.mapping != nil {
			return kernel.Errorf(op, kernel.InvalidCapability, "frame cap %d is already mapped", frame)
		}
		f, vs := fcap.Object, vcap.Object
		size := kernel.Word(1) << f.SizeBits
		if vaddr%size != 0 {
			return kernel.Errorf(op, kernel.AlignmentError, "%#x not aligned to %d bits", vaddr, f.SizeBits)
		}
		m := &Mapping{VSpace: vs, Vaddr: vaddr, Frame: f, Rights: fcap.Rights & rights, Attrs: attrs}
		if vs == k.vspace {
			if err := k.windowFree(op, vaddr, size); err != nil {
				return err
			}
			k.window[vaddr] = m
			fcap.mapping = m
			return nil
		}
		if vs.ASID == 0 {
			return kernel.Errorf(op, kernel.FailedLookup, "vspace has no asid")
		}
		level, ok := k.frameLevel(f.SizeBits)
		if !ok {
			return kernel.Errorf(op, kernel.InvalidArgument, "no level maps %d-bit frames", f.SizeBits)
		}
		table, err := k.walk(op, vs, vaddr, level)
		if err != nil {
			return err
		}
		idx := k.index(level, vaddr)
		if _, taken := table.Entries[idx]; taken {
			return kernel.Errorf(op, kernel.DeleteFirst, "%#x is already mapped", vaddr)
		}
		table.Entries[idx] = f
		fcap.mapping = m
		return nil
	}()
	return k.record(op, err, "frame=%d vspace=%d vaddr=%#x rights=%#x attrs=%#x", frame, vspace, vaddr, rights, attrs)
}

func (k *Kernel) windowFree(op string, vaddr, size kernel.Word) error {
	end := vaddr + size
	imageEnd := k.imageVaddr + kernel.Word(len(k.image))
	if vaddr < imageEnd && k.imageVaddr < end {
		return kernel.Errorf(op, kernel.DeleteFirst, "%#x overlaps the user image", vaddr)
	}
	for base, m := range k.window {
		if vaddr < base+(kernel.Word(1)<<m.Frame.SizeBits) && base < end {
			return kernel.Errorf(op, kernel.DeleteFirst, "%#x overlaps a mapping at %#x", vaddr, base)
		}
	}
	return nil
}

func (k *Kernel) FrameUnmap(frame kernel.CPtr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "frame_unmap"
	err := func() error {
		fcap, err := k.lookupType(op, frame, kernel.TypeFrame)
		if err != nil {
			return err
		}
		m := fcap.mapping
		if m == nil {
			return nil
		}
		if m.VSpace == k.vspace {
			delete(k.window, m.Vaddr)
		} else if level, ok := k.frameLevel(m.Frame.SizeBits); ok {
			if table, err := k.walk(op, m.VSpace, m.Vaddr, level); err == nil {
				delete(table.Entries, k.index(level, m.Vaddr))
			}
		}
		fcap.mapping = nil
		return nil
	}()
	return k.record(op, err, "frame=%d", frame)
}

func (k *Kernel) PageTableMap(table, vspace kernel.CPtr, vaddr kernel.Word, attrs kernel.VMAttributes) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "page_table_map"
	err := func() error {
		tcap, err := k.lookupType(op, table, kernel.TypePageTable)
		if err != nil {
			return err
		}
		vcap, err := k.lookupType(op, vspace, kernel.TypeVSpace)
		if err != nil {
			return err
		}
		pt, vs := tcap.Object, vcap.Object
		if vs == k.vspace {
			return kernel.Errorf(op, kernel.IllegalOperation, "initial vspace tables are kernel managed")
		}
		if vs.ASID == 0 {
			return kernel.Errorf(op, kernel.FailedLookup, "vspace has no asid")
		}
		if tcap.mapping != nil {
			return kernel.Errorf(op, kernel.InvalidCapability, "table is already mapped")
		}
		parentLevel := int(pt.Level) - 1
		parent, err := k.walk(op, vs, vaddr, parentLevel)
		if err != nil {
			return err
		}
		idx := k.index(parentLevel, vaddr)
		if _, taken := parent.Entries[idx]; taken {
			return kernel.Errorf(op, kernel.DeleteFirst, "level %d entry for %#x is occupied", pt.Level, vaddr)
		}
		parent.Entries[idx] = pt
		tcap.mapping = &Mapping{VSpace: vs, Vaddr: vaddr, Attrs: attrs}
		return nil
	}()
	return k.record(op, err, "table=%d vspace=%d vaddr=%#x attrs=%#x", table, vspace, vaddr, attrs)
}

// Window returns the bytes currently mapped at vaddr in the initial thread.
func (k *Kernel) Window(vaddr kernel.Word, length uint64) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	const op = "window"
	end := vaddr + length
	if end < vaddr {
		return nil, kernel.Errorf(op, kernel.RangeError, "window wraps")
	}
	if vaddr >= k.imageVaddr && end <= k.imageVaddr+kernel.Word(len(k.image)) {
		off := vaddr - k.imageVaddr
		return k.image[off : off+length : off+length], nil
	}
	for base, m := range k.window {
		size := kernel.Word(1) << m.Frame.SizeBits
		if vaddr >= base && end <= base+size {
			off := vaddr - base
			return m.Frame.Bytes()[off : off+length : off+length], nil
		}
	}
	return nil, kernel.Errorf(op, kernel.FailedLookup, "nothing mapped at [%#x, %#x)", vaddr, end)
}

// Translate walks vspace to the frame mapped at vaddr.
func (k *Kernel) Translate(vspace *Object, vaddr kernel.Word) (*Object, kernel.Word, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if vspace == nil || vspace.Type != kernel.TypeVSpace {
		return nil, 0, false
	}
	cur := vspace
	for level := 0; level < k.arch.NumLevels(); level++ {
		next, ok := cur.Entries[k.index(level, vaddr)]
		if !ok {
			return nil, 0, false
		}
		if next.Type == kernel.TypeFrame {
			return next, vaddr & ((kernel.Word(1) << next.SizeBits) - 1), true
		}
		cur = next
	}
	return nil, 0, false
}
