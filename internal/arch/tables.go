package arch

import "github.com/danmuck/capinit/internal/kernel"

// Architecture IDs recorded in blob headers.
const (
	IDAArch64 uint32 = 1
	IDRISCV64 uint32 = 2
	IDX86_64  uint32 = 3
)

func aarch64() *Arch {
	return &Arch{
		Name:        "aarch64",
		ID:          IDAArch64,
		WordBits:    64,
		GranuleBits: 12,
		LevelBits:   []uint8{9, 9, 9, 9},
		FrameSizes:  []uint8{12, 21, 30},
		SlotBits:    5,
		EntryBits:   3,
		ObjectBits: map[kernel.ObjectType]uint8{
			kernel.TypeTCB:          11,
			kernel.TypeEndpoint:     4,
			kernel.TypeNotification: 5,
			kernel.TypeReply:        5,
			kernel.TypeVCPU:         12,
		},
		ASIDPoolBits: 12,
		MinSCBits:    8,
		NumGPRs:      31,
		HasFlags:     true,
		Attrs: AttrTable{
			Default:      0x03,
			Uncached:     0x00,
			ExecuteNever: 0x04,
		},
	}
}

func riscv64() *Arch {
	return &Arch{
		Name:        "riscv64",
		ID:          IDRISCV64,
		WordBits:    64,
		GranuleBits: 12,
		LevelBits:   []uint8{9, 9, 9},
		FrameSizes:  []uint8{12, 21, 30},
		SlotBits:    5,
		EntryBits:   3,
		ObjectBits: map[kernel.ObjectType]uint8{
			kernel.TypeTCB:          10,
			kernel.TypeEndpoint:     4,
			kernel.TypeNotification: 5,
			kernel.TypeReply:        5,
		},
		ASIDPoolBits: 12,
		MinSCBits:    8,
		NumGPRs:      30,
		HasFlags:     false,
		Attrs: AttrTable{
			Default:      0x00,
			Uncached:     0x00,
			ExecuteNever: 0x01,
		},
	}
}

func x86_64() *Arch {
	return &Arch{
		Name:        "x86_64",
		ID:          IDX86_64,
		WordBits:    64,
		GranuleBits: 12,
		LevelBits:   []uint8{9, 9, 9, 9},
		FrameSizes:  []uint8{12, 21, 30},
		SlotBits:    5,
		EntryBits:   3,
		ObjectBits: map[kernel.ObjectType]uint8{
			kernel.TypeTCB:          11,
			kernel.TypeEndpoint:     4,
			kernel.TypeNotification: 5,
			kernel.TypeReply:        5,
			kernel.TypeVCPU:         14,
		},
		ASIDPoolBits: 12,
		MinSCBits:    8,
		NumGPRs:      16,
		HasFlags:     true,
		Attrs: AttrTable{
			Default:  0x00,
			Uncached: 0x02,
		},
	}
}
