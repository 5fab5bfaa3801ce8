package initializer

import (
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/observability"
	"github.com/danmuck/capinit/internal/spec"
)

// fillFrames writes the initial contents of every frame that is not part
// of the loader image. Each frame is mapped at the copy window, zeroed
// unless the kernel is trusted to have done so, filled and unmapped.
func (i *Initializer) fillFrames() error {
	for _, id := range i.sp.IDs(spec.KindFrame) {
		obj := &i.sp.Objects[id].Object
		if obj.IsEmbeddedFrame() {
			continue
		}
		fill, _ := obj.FrameFill()
		zero := !i.device[id] && !i.cfg.TrustKernelZeroing
		if fill.IsEmpty() && !zero {
			continue
		}
		if err := i.fillFrame(id, obj, fill, zero); err != nil {
			return err
		}
	}
	return nil
}

func (i *Initializer) fillFrame(id spec.ObjectID, obj *spec.Object, fill spec.Fill, zero bool) error {
	frame, err := i.capOf(id)
	if err != nil {
		return i.fail(PhaseFill, "frame", id, err)
	}
	window := i.cfg.CopyWindow
	// uncached so no dirty lines outlive the window mapping
	attrs := i.arch.VMAttributes(false, false)
	if err := i.k.FrameMap(frame, kernel.CapInitThreadVSpace, window, kernel.RightsAll, attrs); err != nil {
		return i.fail(PhaseFill, "frame_map", id, err)
	}
	buf, err := i.cfg.Memory.Window(window, uint64(1)<<obj.SizeBits)
	if err != nil {
		return i.fail(PhaseFill, "window", id, err)
	}
	if zero {
		clear(buf)
		i.report.Zeroings++
	}
	for _, entry := range fill.Entries {
		if err := i.cfg.Source.CopyOut(entry, buf[entry.Range.Start:entry.Range.End]); err != nil {
			return i.fail(PhaseFill, "copy_"+entry.Content.Kind.String(), id, err)
		}
		i.report.Copies++
		if entry.Content.Kind == spec.ContentDeflated {
			i.report.Inflations++
		}
		n := int(entry.Range.Len())
		i.report.FillBytes += n
		observability.RecordFillBytes(entry.Content.Kind.String(), n)
	}
	if err := i.k.FrameUnmap(frame); err != nil {
		return i.fail(PhaseFill, "frame_unmap", id, err)
	}
	return nil
}
