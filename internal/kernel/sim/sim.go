// Package sim is an in-memory implementation of the kernel primitives. It
// enforces the same preconditions a real kernel would (retype bounds and
// alignment, empty destination slots, one mapping per frame cap, present
// intermediate tables) and records every invocation for inspection.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/kernel"
)

// PoisonByte fills frames retyped from poisoned untyped memory.
const PoisonByte = 0xa5

const (
	DefaultCNodeSizeBits = 12
	DefaultImageVaddr    = 0x400000
	DefaultImagePaddr    = 0x80000000
	asidPoolEntries      = 512
	maxASIDPools         = 128
	maxIRQ               = 1024
)

var ErrConfig = errors.New("sim: invalid configuration")

// UntypedConfig describes one untyped handed to the initializer at boot.
type UntypedConfig struct {
	Paddr    kernel.Word
	SizeBits uint8
	Device   bool
}

// Config describes the boot environment to simulate.
type Config struct {
	Arch          *arch.Arch
	CNodeSizeBits uint8
	Untyped       []UntypedConfig
	// Image is loaded into user image frames mapped at ImageVaddr.
	Image      []byte
	ImageVaddr kernel.Word
	ImagePaddr kernel.Word
	FDT        []byte
	MCS        bool
	Cores      int
	// PoisonUntyped models a kernel that does not clear memory on retype.
	PoisonUntyped bool
}

// Invocation is one recorded primitive call.
type Invocation struct {
	Seq  int    `json:"seq"`
	Op   string `json:"op"`
	Args string `json:"args"`
	Err  string `json:"err,omitempty"`
}

// Observer is notified after every invocation.
type Observer func(op string, err error)

// Kernel is the simulated kernel.
type Kernel struct {
	mu sync.Mutex

	arch     *arch.Arch
	cfg      Config
	bootInfo kernel.BootInfo

	objects []*Object
	cspace  *Object
	vspace  *Object
	initTCB *Object

	image      []byte
	imageVaddr kernel.Word
	window     map[kernel.Word]*Mapping
	irqs       map[kernel.Word]*Object
	asidPools  int

	invocations []Invocation
	observer    Observer
}

// New builds a kernel in the state it hands to the initial thread.
func New(cfg Config) (*Kernel, error) {
	if cfg.Arch == nil {
		return nil, fmt.Errorf("%w: architecture is required", ErrConfig)
	}
	if cfg.CNodeSizeBits == 0 {
		cfg.CNodeSizeBits = DefaultCNodeSizeBits
	}
	if cfg.ImageVaddr == 0 {
		cfg.ImageVaddr = DefaultImageVaddr
	}
	if cfg.ImagePaddr == 0 {
		cfg.ImagePaddr = DefaultImagePaddr
	}
	if cfg.Cores <= 0 {
		cfg.Cores = 1
	}
	granule := kernel.Word(1) << cfg.Arch.GranuleBits
	if cfg.ImageVaddr%granule != 0 || cfg.ImagePaddr%granule != 0 {
		return nil, fmt.Errorf("%w: image address not granule aligned", ErrConfig)
	}

	k := &Kernel{
		arch:       cfg.Arch,
		cfg:        cfg,
		imageVaddr: cfg.ImageVaddr,
		window:     make(map[kernel.Word]*Mapping),
		irqs:       make(map[kernel.Word]*Object),
	}
	k.cspace = k.newObject(kernel.TypeCNode, cfg.CNodeSizeBits+cfg.Arch.SlotBits)
	k.cspace.UserBits = cfg.CNodeSizeBits
	k.vspace = k.newObject(kernel.TypeVSpace, cfg.Arch.TableBits(0))
	k.vspace.ASID = 1
	k.initTCB = k.newObject(kernel.TypeTCB, cfg.Arch.ObjectBits[kernel.TypeTCB])
	k.initTCB.Thread = &Thread{Configured: true, Running: true, Prio: 255, MaxPrio: 255}

	initPool := k.newObject(kernel.TypeASIDPool, cfg.Arch.ASIDPoolBits)
	// asid 0 is invalid and asid 1 belongs to the initial vspace.
	initPool.poolUsed = 2
	k.asidPools = 1

	k.put(kernel.CapInitThreadTCB, k.initTCB)
	k.put(kernel.CapInitThreadCNode, k.cspace)
	k.put(kernel.CapInitThreadVSpace, k.vspace)
	k.put(kernel.CapInitThreadASIDPool, initPool)
	k.put(kernel.CapBootInfoFrame, k.frame(cfg.Arch.GranuleBits, 0, false))
	k.put(kernel.CapInitThreadIPCBuffer, k.frame(cfg.Arch.GranuleBits, 0, false))
	if cfg.MCS {
		sc := k.newObject(kernel.TypeSchedContext, cfg.Arch.MinSCBits)
		sc.Configured = true
		k.initTCB.Thread.SchedContext = sc
		k.put(kernel.CapInitThreadSC, sc)
	}

	next := kernel.NumInitialCaps
	imageStart := next
	pages := (len(cfg.Image) + int(granule) - 1) / int(granule)
	k.image = make([]byte, pages*int(granule))
	copy(k.image, cfg.Image)
	for i := 0; i < pages; i++ {
		f := k.frame(cfg.Arch.GranuleBits, cfg.ImagePaddr+kernel.Word(i)*granule, false)
		f.data = k.image[i*int(granule) : (i+1)*int(granule)]
		c := k.put(next, f)
		c.mapping = &Mapping{VSpace: k.vspace, Vaddr: cfg.ImageVaddr + kernel.Word(i)*granule, Frame: f, Rights: kernel.RightsAll}
		next++
	}
	imageEnd := next

	untypedStart := next
	list := make([]kernel.UntypedDesc, 0, len(cfg.Untyped))
	for _, u := range cfg.Untyped {
		if u.SizeBits < 4 || u.SizeBits >= cfg.Arch.WordBits {
			return nil, fmt.Errorf("%w: untyped size %d", ErrConfig, u.SizeBits)
		}
		if u.Paddr%(kernel.Word(1)<<u.SizeBits) != 0 {
			return nil, fmt.Errorf("%w: untyped at %#x not aligned to %d bits", ErrConfig, u.Paddr, u.SizeBits)
		}
		obj := k.newObject(kernel.TypeUntyped, u.SizeBits)
		obj.UserBits = u.SizeBits
		obj.Paddr = u.Paddr
		obj.Device = u.Device
		obj.poisoned = cfg.PoisonUntyped
		k.put(next, obj)
		list = append(list, kernel.UntypedDesc{Paddr: u.Paddr, SizeBits: u.SizeBits, IsDevice: u.Device})
		next++
	}
	limit := kernel.CPtr(1) << cfg.CNodeSizeBits
	if next > limit {
		return nil, fmt.Errorf("%w: %d boot caps exceed a %d-slot cspace", ErrConfig, next, limit)
	}

	k.bootInfo = kernel.BootInfo{
		NodeID:            0,
		NumNodes:          kernel.Word(cfg.Cores),
		InitCNodeSizeBits: cfg.CNodeSizeBits,
		Empty:             kernel.SlotRegion{Start: next, End: limit},
		UserImageFrames:   kernel.SlotRegion{Start: imageStart, End: imageEnd},
		Untyped:           kernel.SlotRegion{Start: untypedStart, End: next},
		UntypedList:       list,
		MCS:               cfg.MCS,
		FDT:               append([]byte(nil), cfg.FDT...),
	}
	log.Debug().Msgf("sim.New arch=%s untyped=%d image_pages=%d empty=%d mcs=%v",
		cfg.Arch.Name, len(list), pages, k.bootInfo.Empty.Len(), cfg.MCS)
	return k, nil
}

// BootInfo returns the boot information handed to the initial thread.
func (k *Kernel) BootInfo() kernel.BootInfo {
	return k.bootInfo
}

// ImageVaddr is where the user image is mapped in the initial thread.
func (k *Kernel) ImageVaddr() kernel.Word {
	return k.imageVaddr
}

// Arch returns the simulated architecture.
func (k *Kernel) Arch() *arch.Arch {
	return k.arch
}

// SetObserver installs a callback run after every invocation.
func (k *Kernel) SetObserver(fn Observer) {
	k.mu.Lock()
	k.observer = fn
	k.mu.Unlock()
}

func (k *Kernel) newObject(t kernel.ObjectType, sizeBits uint8) *Object {
	obj := &Object{ID: len(k.objects), Type: t, SizeBits: sizeBits}
	switch t {
	case kernel.TypeCNode:
		obj.Slots = make(map[kernel.Word]*Cap)
	case kernel.TypeVSpace, kernel.TypePageTable:
		obj.Entries = make(map[kernel.Word]*Object)
	case kernel.TypeTCB:
		obj.Thread = &Thread{}
	}
	k.objects = append(k.objects, obj)
	return obj
}

func (k *Kernel) frame(bits uint8, paddr kernel.Word, device bool) *Object {
	f := k.newObject(kernel.TypeFrame, bits)
	f.UserBits = bits
	f.Paddr = paddr
	f.Device = device
	return f
}

func (k *Kernel) put(slot kernel.CPtr, obj *Object) *Cap {
	c := &Cap{Object: obj, Rights: kernel.RightsAll}
	k.cspace.Slots[kernel.Word(slot)] = c
	return c
}

// record appends an invocation to the log and notifies the observer.
func (k *Kernel) record(op string, err error, format string, args ...any) error {
	inv := Invocation{Seq: len(k.invocations), Op: op, Args: fmt.Sprintf(format, args...)}
	if err != nil {
		inv.Err = err.Error()
		log.Debug().Msgf("sim.Kernel.%s args=%s err=%v", op, inv.Args, err)
	}
	k.invocations = append(k.invocations, inv)
	if k.observer != nil {
		k.observer(op, err)
	}
	return err
}
