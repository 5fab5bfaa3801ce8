package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/kernel"
)

func newKernel(t *testing.T, mutate func(*Config)) *Kernel {
	t.Helper()
	a, err := arch.Lookup("aarch64")
	require.NoError(t, err)
	cfg := Config{
		Arch: a,
		Untyped: []UntypedConfig{
			{Paddr: 0x100000, SizeBits: 20},
			{Paddr: 0x10000000, SizeBits: 16, Device: true},
		},
		Image: []byte("hello image"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := New(cfg)
	require.NoError(t, err)
	return k
}

func code(t *testing.T, err error) kernel.ErrorCode {
	t.Helper()
	c, ok := kernel.CodeOf(err)
	require.True(t, ok, "expected a kernel error, got %v", err)
	return c
}

func TestBootInfoLayout(t *testing.T) {
	k := newKernel(t, nil)
	bi := k.BootInfo()
	assert.Equal(t, kernel.NumInitialCaps, bi.UserImageFrames.Start)
	assert.Equal(t, 1, bi.UserImageFrames.Len())
	assert.Equal(t, 2, bi.Untyped.Len())
	assert.Equal(t, bi.Untyped.End, bi.Empty.Start)
	assert.Equal(t, kernel.CPtr(1)<<DefaultCNodeSizeBits, bi.Empty.End)
	require.Len(t, bi.UntypedList, 2)
	assert.True(t, bi.UntypedList[1].IsDevice)

	win, err := k.Window(k.ImageVaddr(), 11)
	require.NoError(t, err)
	assert.Equal(t, "hello image", string(win))
}

func TestRetypeWatermarkAndAlignment(t *testing.T) {
	k := newKernel(t, nil)
	bi := k.BootInfo()
	ut := bi.UntypedCPtr(0)
	slot := bi.Empty.Start

	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeEndpoint}, slot))
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: 12}, slot+1))
	ep, _ := k.Cap(slot)
	frame, _ := k.Cap(slot + 1)
	assert.Equal(t, kernel.Word(0x100000), ep.Object.Paddr)
	assert.Equal(t, kernel.Word(0x101000), frame.Object.Paddr)

	err := k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeEndpoint}, slot)
	assert.Equal(t, kernel.DeleteFirst, code(t, err))

	err = k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeUntyped, SizeBits: 20}, slot+2)
	assert.Equal(t, kernel.NotEnoughMemory, code(t, err))

	err = k.UntypedRetype(bi.UntypedCPtr(1), kernel.Blueprint{Type: kernel.TypeTCB}, slot+2)
	assert.Equal(t, kernel.IllegalOperation, code(t, err))
	require.NoError(t, k.UntypedRetype(bi.UntypedCPtr(1), kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: 12}, slot+2))

	assert.Equal(t, 3, k.Count("untyped_retype"))
	us := k.Untypeds()
	require.Len(t, us, 2)
	assert.Equal(t, uint64(0x2000), us[0].Watermark)
}

func TestMapRequiresASIDAndTables(t *testing.T) {
	k := newKernel(t, nil)
	bi := k.BootInfo()
	ut := bi.UntypedCPtr(0)
	s := bi.Empty.Start
	vs, f := s, s+1
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeVSpace}, vs))
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: 12}, f))

	err := k.FrameMap(f, vs, 0x400000, kernel.RightsAll, 0)
	assert.Equal(t, kernel.FailedLookup, code(t, err))

	require.NoError(t, k.ASIDPoolAssign(kernel.CapInitThreadASIDPool, vs))
	err = k.FrameMap(f, vs, 0x400000, kernel.RightsAll, 0)
	assert.Equal(t, kernel.FailedLookup, code(t, err))

	for level, slot := range []kernel.CPtr{s + 2, s + 3, s + 4} {
		require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypePageTable, Level: uint8(level + 1)}, slot))
		require.NoError(t, k.PageTableMap(slot, vs, 0x400000, 0))
	}
	require.NoError(t, k.FrameMap(f, vs, 0x400000, kernel.RightsAll, 0))
	err = k.FrameMap(f, vs, 0x401000, kernel.RightsAll, 0)
	assert.Equal(t, kernel.InvalidCapability, code(t, err))

	vsCap, _ := k.Cap(vs)
	fCap, _ := k.Cap(f)
	got, off, ok := k.Translate(vsCap.Object, 0x400123)
	require.True(t, ok)
	assert.Same(t, fCap.Object, got)
	assert.Equal(t, kernel.Word(0x123), off)

	err = k.FrameMap(f, vs, 0x400800, kernel.RightsAll, 0)
	assert.Equal(t, kernel.InvalidCapability, code(t, err))
}

func TestWindowOverInitialVSpace(t *testing.T) {
	k := newKernel(t, func(c *Config) { c.PoisonUntyped = true })
	bi := k.BootInfo()
	f := bi.Empty.Start
	require.NoError(t, k.UntypedRetype(bi.UntypedCPtr(0), kernel.Blueprint{Type: kernel.TypeFrame, SizeBits: 12}, f))

	_, err := k.Window(0x7000000, 16)
	require.Error(t, err)

	require.NoError(t, k.FrameMap(f, kernel.CapInitThreadVSpace, 0x7000000, kernel.RightsAll, 0))
	win, err := k.Window(0x7000000, 16)
	require.NoError(t, err)
	assert.Equal(t, byte(PoisonByte), win[0])
	win[0] = 1

	err = k.FrameMap(f, kernel.CapInitThreadVSpace, 0x7001000, kernel.RightsAll, 0)
	assert.Equal(t, kernel.InvalidCapability, code(t, err))

	require.NoError(t, k.FrameUnmap(f))
	_, err = k.Window(0x7000000, 16)
	require.Error(t, err)

	fc, _ := k.Cap(f)
	assert.Equal(t, byte(1), fc.Object.Bytes()[0])
}

func TestMintAndThreads(t *testing.T) {
	k := newKernel(t, nil)
	bi := k.BootInfo()
	ut := bi.UntypedCPtr(0)
	s := bi.Empty.Start
	cn, ep, tcb := s, s+1, s+2
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeCNode, SizeBits: 2}, cn))
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeEndpoint}, ep))
	require.NoError(t, k.UntypedRetype(ut, kernel.Blueprint{Type: kernel.TypeTCB}, tcb))

	require.NoError(t, k.CNodeMint(kernel.SlotRef{Root: cn, Index: 3, Depth: 2}, ep, 0x03, 7))
	err := k.CNodeCopy(kernel.SlotRef{Root: cn, Index: 4, Depth: 2}, ep, kernel.RightsAll)
	assert.Equal(t, kernel.RangeError, code(t, err))

	cnCap, _ := k.Cap(cn)
	minted := cnCap.Object.Slots[3]
	require.NotNil(t, minted)
	assert.Equal(t, kernel.Word(7), minted.Badge)
	assert.Equal(t, kernel.Rights(0x03), minted.Rights)

	err = k.TCBResume(tcb)
	assert.Equal(t, kernel.IllegalOperation, code(t, err))
	require.NoError(t, k.TCBWriteRegisters(tcb, false, kernel.UserContext{PC: 0x1000, GPRs: []kernel.Word{1}}))
	require.NoError(t, k.TCBResume(tcb))
	tc, _ := k.Cap(tcb)
	assert.True(t, tc.Object.Thread.Running)

	err = k.TCBSetSchedParams(tcb, kernel.SchedParams{Authority: kernel.CapInitThreadTCB, Prio: 10, MaxPrio: 10, SchedContext: ep})
	assert.Equal(t, kernel.IllegalOperation, code(t, err))

	require.NoError(t, k.TCBSuspend(kernel.CapInitThreadTCB))
	assert.True(t, k.InitThread().Thread.Suspended)
}

func TestIRQHandlersAreIssuedOnce(t *testing.T) {
	k := newKernel(t, nil)
	s := k.BootInfo().Empty.Start
	require.NoError(t, k.IRQControlGet(kernel.IRQRequest{IRQ: 27}, s))
	err := k.IRQControlGet(kernel.IRQRequest{IRQ: 27}, s+1)
	assert.Equal(t, kernel.RevokeFirst, code(t, err))
}
