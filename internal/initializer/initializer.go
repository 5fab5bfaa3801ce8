// Package initializer rebuilds a capability system from a spec: it carves
// every object out of untyped memory, fills frames, builds address spaces,
// configures threads and populates cspaces, then starts the threads that
// asked to be resumed and suspends itself.
//
// Every creation happens before any population, so the object graph may
// contain cycles without needing a topological order.
package initializer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/cslot"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/observability"
	"github.com/danmuck/capinit/internal/resolve"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/untyped"
)

// Config is everything one reconstruction pass needs.
type Config struct {
	Kernel   kernel.Kernel
	Memory   kernel.Memory
	BootInfo *kernel.BootInfo
	Arch     *arch.Arch
	Spec     *spec.Spec
	Source   resolve.Source

	// ImageVaddr is where the first user image frame is mapped; SidecarVaddr
	// is where the sidecar of the loaded blob starts. Embedded frames are
	// located through both.
	ImageVaddr   kernel.Word
	SidecarVaddr kernel.Word
	// CopyWindow is the vaddr frames are mapped at while being filled. It
	// must be aligned to the largest frame size.
	CopyWindow kernel.Word

	Policy untyped.Policy
	// TrustKernelZeroing skips explicit zeroing of frames.
	TrustKernelZeroing bool
}

// Initializer owns the state of one pass. It is not safe for concurrent
// use.
type Initializer struct {
	cfg    Config
	k      kernel.Kernel
	sp     *spec.Spec
	arch   *arch.Arch
	slots  *cslot.Allocator
	pool   *untyped.Allocator
	caps   []kernel.CPtr
	levels map[spec.ObjectID]uint8
	// regions maps spec-declared untyped parents to their pool region.
	regions map[spec.ObjectID]int
	device  map[spec.ObjectID]bool
	report  Report
}

// New checks cfg and prepares a pass.
func New(cfg Config) (*Initializer, error) {
	switch {
	case cfg.Kernel == nil:
		return nil, fmt.Errorf("%w: kernel is required", ErrConfig)
	case cfg.Memory == nil:
		return nil, fmt.Errorf("%w: memory is required", ErrConfig)
	case cfg.BootInfo == nil:
		return nil, fmt.Errorf("%w: boot info is required", ErrConfig)
	case cfg.Arch == nil:
		return nil, fmt.Errorf("%w: arch is required", ErrConfig)
	case cfg.Spec == nil:
		return nil, fmt.Errorf("%w: spec is required", ErrConfig)
	}
	if cfg.CopyWindow == 0 {
		cfg.CopyWindow = kernel.Word(1) << cfg.Arch.LargestFrameBits()
	}
	if cfg.CopyWindow%(kernel.Word(1)<<cfg.Arch.LargestFrameBits()) != 0 {
		return nil, fmt.Errorf("%w: copy window %#x is not aligned to %d bits", ErrConfig, cfg.CopyWindow, cfg.Arch.LargestFrameBits())
	}
	if len(cfg.BootInfo.FDT) > 0 {
		cfg.Source = cfg.Source.WithBootInfo(spec.BootInfoFDT, cfg.BootInfo.FDT)
	}
	if err := cfg.Spec.Validate(); err != nil {
		return nil, err
	}
	levels, err := cfg.Spec.PageTableLevels()
	if err != nil {
		return nil, err
	}
	return &Initializer{
		cfg:     cfg,
		k:       cfg.Kernel,
		sp:      cfg.Spec,
		arch:    cfg.Arch,
		slots:   cslot.New(cfg.BootInfo.Empty),
		pool:    untyped.FromBootInfo(cfg.BootInfo, cfg.Policy),
		caps:    make([]kernel.CPtr, cfg.Spec.Len()),
		levels:  levels,
		regions: make(map[spec.ObjectID]int),
		device:  make(map[spec.ObjectID]bool),
	}, nil
}

// Run executes every phase in order. On failure the returned report covers
// the steps completed so far.
func (i *Initializer) Run() (*Report, error) {
	log.Info().Msgf("initializer.Run starting objects=%d arch=%s untyped=%d", i.sp.Len(), i.arch.Name, len(i.cfg.BootInfo.UntypedList))
	steps := map[Phase]func() error{
		PhaseCreate:       i.createObjects,
		PhaseIRQ:          i.bindIRQs,
		PhaseASID:         i.assignASIDs,
		PhaseFill:         i.fillFrames,
		PhaseVSpace:       i.mapVSpaces,
		PhaseSchedContext: i.configureSchedContexts,
		PhaseTCB:          i.configureTCBs,
		PhaseCSpace:       i.populateCSpaces,
		PhaseStart:        i.startThreads,
		PhaseSuspend:      i.suspendSelf,
	}
	for _, phase := range Phases {
		start := time.Now()
		err := steps[phase]()
		observability.RecordPhase(string(phase), time.Since(start), err == nil)
		if err != nil {
			i.finish()
			return &i.report, err
		}
		log.Debug().Msgf("initializer.Run phase=%s elapsed=%s", phase, time.Since(start))
	}
	i.finish()
	log.Info().Msgf("initializer.Run done creations=%d populated=%d mappings=%d copies=%d started=%d",
		i.report.Creations, i.report.PopulatedSlots, i.report.Mappings, i.report.Copies, i.report.Started)
	return &i.report, nil
}

// Run is New followed by Run.
func Run(cfg Config) (*Report, error) {
	in, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return in.Run()
}

func (i *Initializer) finish() {
	i.report.Caps = append([]kernel.CPtr(nil), i.caps...)
	i.report.SlotsUsed = i.slots.Used()
	i.report.Untyped = i.pool.Stats()
	s := i.report.Untyped
	observability.RecordUntyped(s.Total, s.Used, s.Free)
}

// name resolves an object's name for diagnostics and thread names.
func (i *Initializer) name(id spec.ObjectID) string {
	if int(id) >= i.sp.Len() {
		return ""
	}
	n, _, err := i.cfg.Source.Name(i.sp.Objects[id].Name)
	if err != nil {
		return ""
	}
	return n
}

// capOf returns the original cap of a created object.
func (i *Initializer) capOf(id spec.ObjectID) (kernel.CPtr, error) {
	if int(id) >= len(i.caps) || i.caps[id] == kernel.CapNull {
		return kernel.CapNull, fmt.Errorf("%w: object %d", ErrNotCreated, id)
	}
	return i.caps[id], nil
}

// ownSlot addresses a slot of the initializer's own cspace for copies.
func (i *Initializer) ownSlot(c kernel.CPtr) kernel.SlotRef {
	return kernel.SlotRef{Root: kernel.CapInitThreadCNode, Index: kernel.Word(c), Depth: i.cfg.BootInfo.InitCNodeSizeBits}
}

// copyCap derives a fresh cap to id in the initializer's cspace, minting
// when the spec cap carries a badge or guard.
func (i *Initializer) copyCap(id spec.ObjectID, c spec.Cap) (kernel.CPtr, error) {
	src, err := i.capOf(id)
	if err != nil {
		return kernel.CapNull, err
	}
	dst, err := i.slots.Alloc()
	if err != nil {
		return kernel.CapNull, err
	}
	rights := kernel.Rights(c.EffectiveRights().Bits())
	if c.NeedsMint() {
		err = i.k.CNodeMint(i.ownSlot(dst), src, rights, uint64(c.MintBadge()))
	} else {
		err = i.k.CNodeCopy(i.ownSlot(dst), src, rights)
	}
	if err != nil {
		return kernel.CapNull, err
	}
	return dst, nil
}

func (i *Initializer) populated(phase Phase, obj spec.ObjectID, slot spec.CapSlot, target spec.ObjectID) {
	i.report.record(Event{Kind: EventPopulate, Phase: phase, Object: obj, Slot: slot, Target: target})
}
