package config

import (
	"fmt"
	"os"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/kernel/sim"
	"github.com/danmuck/capinit/internal/untyped"
)

// SimConfig builds the simulated boot environment for cfg. image is the
// loaded blob.
func (cfg RunConfig) SimConfig(image []byte) (sim.Config, error) {
	a, err := arch.Lookup(cfg.Arch)
	if err != nil {
		return sim.Config{}, err
	}
	out := sim.Config{
		Arch:          a,
		CNodeSizeBits: cfg.CNodeSizeBits,
		Image:         image,
		ImageVaddr:    kernel.Word(cfg.ImageVaddr),
		ImagePaddr:    kernel.Word(cfg.ImagePaddr),
		MCS:           cfg.MCS,
		Cores:         cfg.Cores,
		PoisonUntyped: cfg.PoisonUntyped,
	}
	for _, u := range cfg.Untyped {
		out.Untyped = append(out.Untyped, sim.UntypedConfig{
			Paddr:    kernel.Word(u.Paddr),
			SizeBits: u.SizeBits,
			Device:   u.Device,
		})
	}
	if cfg.FDT != "" {
		fdt, err := os.ReadFile(cfg.FDT)
		if err != nil {
			return sim.Config{}, fmt.Errorf("config load failed (%s): %w", cfg.FDT, err)
		}
		out.FDT = fdt
	}
	return out, nil
}

func (cfg RunConfig) Policy() (untyped.Policy, error) {
	tb, err := untyped.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return untyped.Policy{}, err
	}
	return untyped.Policy{TieBreak: tb}, nil
}
