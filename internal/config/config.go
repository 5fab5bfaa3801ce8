package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/untyped"
)

// RunConfig describes a simulated boot: the machine the blob is loaded
// on and how the initializer should treat it.
type RunConfig struct {
	Arch          string          `toml:"arch"`
	Blob          string          `toml:"blob"`
	ImageVaddr    uint64          `toml:"image_vaddr"`
	ImagePaddr    uint64          `toml:"image_paddr"`
	CNodeSizeBits uint8           `toml:"cnode_size_bits"`
	CopyWindow    uint64          `toml:"copy_window"`
	FDT           string          `toml:"fdt"`
	MCS           bool            `toml:"mcs"`
	Cores         int             `toml:"cores"`
	PoisonUntyped bool            `toml:"poison_untyped"`
	TieBreak      string          `toml:"tie_break"`
	TrustZeroing  bool            `toml:"trust_kernel_zeroing"`
	Untyped       []UntypedConfig `toml:"untyped"`
	Inspect       InspectConfig   `toml:"inspect"`
}

type UntypedConfig struct {
	Paddr    uint64 `toml:"paddr"`
	SizeBits uint8  `toml:"size_bits"`
	Device   bool   `toml:"device"`
}

// InspectConfig enables the inspection server when Addr is set.
type InspectConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

const (
	DefaultArch          = "aarch64"
	DefaultImageVaddr    = 0x400000
	DefaultCNodeSizeBits = 12
)

func LoadRunConfig(path string) (RunConfig, error) {
	var cfg RunConfig
	if err := loadToml(path, &cfg); err != nil {
		return RunConfig{}, err
	}
	ApplyRunDefaults(&cfg)
	if err := ValidateRunConfig(cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func ApplyRunDefaults(cfg *RunConfig) {
	if cfg.Arch == "" {
		cfg.Arch = DefaultArch
	}
	if cfg.ImageVaddr == 0 {
		cfg.ImageVaddr = DefaultImageVaddr
	}
	if cfg.CNodeSizeBits == 0 {
		cfg.CNodeSizeBits = DefaultCNodeSizeBits
	}
	if cfg.Cores == 0 {
		cfg.Cores = 1
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = untyped.TieBreakListOrder.String()
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRunConfig(cfg RunConfig) error {
	a, err := arch.Lookup(cfg.Arch)
	if err != nil {
		return fmt.Errorf("run config: %w", err)
	}
	if strings.TrimSpace(cfg.Blob) == "" {
		return fmt.Errorf("run config missing blob")
	}
	if cfg.ImageVaddr%(uint64(1)<<a.GranuleBits) != 0 {
		return fmt.Errorf("run config image_vaddr %#x not aligned to the %s granule", cfg.ImageVaddr, a.Name)
	}
	if cfg.CNodeSizeBits < 4 || cfg.CNodeSizeBits > 24 {
		return fmt.Errorf("run config cnode_size_bits %d outside [4,24]", cfg.CNodeSizeBits)
	}
	if cfg.Cores < 1 {
		return fmt.Errorf("run config cores must be at least 1")
	}
	if _, err := untyped.ParseTieBreak(cfg.TieBreak); err != nil {
		return fmt.Errorf("run config: %w", err)
	}
	if len(cfg.Untyped) == 0 {
		return fmt.Errorf("run config needs at least one untyped entry")
	}
	for i, u := range cfg.Untyped {
		if err := ValidateUntypedEntry(u, a); err != nil {
			return fmt.Errorf("untyped[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateUntypedEntry(u UntypedConfig, a *arch.Arch) error {
	if u.SizeBits < 4 || int(u.SizeBits) >= int(a.WordBits) {
		return fmt.Errorf("size_bits %d out of range", u.SizeBits)
	}
	if u.Paddr%(uint64(1)<<u.SizeBits) != 0 {
		return fmt.Errorf("paddr %#x not aligned to %d bits", u.Paddr, u.SizeBits)
	}
	return nil
}
